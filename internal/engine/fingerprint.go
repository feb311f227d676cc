package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint normalizes item text into the identity key used for
// deduplication and local state lookup: NFKC fold, casefold, and whitespace
// collapse. "Milk ", "milk" and "MILK" all share one fingerprint; any real
// text change produces a new one.
func Fingerprint(text string) string {
	t := norm.NFKC.String(text)
	t = strings.ToLower(t)
	return strings.Join(strings.Fields(t), " ")
}
