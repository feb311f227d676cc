package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCycleID     = "cycle_id"
	KeyItemID      = "item_id"
	KeyProject     = "project"
	KeyCategory    = "category"
	KeySection     = "section"
	KeyFingerprint = "fingerprint"
	KeyDurationMS  = "duration_ms"
	KeyAttempt     = "attempt"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func CycleID(id string) slog.Attr      { return slog.String(KeyCycleID, id) }
func ItemID(id string) slog.Attr       { return slog.String(KeyItemID, id) }
func Project(p string) slog.Attr       { return slog.String(KeyProject, p) }
func Category(c string) slog.Attr      { return slog.String(KeyCategory, c) }
func Section(s string) slog.Attr       { return slog.String(KeySection, s) }
func Fingerprint(fp string) slog.Attr  { return slog.String(KeyFingerprint, fp) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
