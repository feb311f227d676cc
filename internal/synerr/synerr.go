// Package synerr defines the closed error taxonomy shared by the adapters,
// the reconciliation engine, and the orchestrator.
//
// Leaf adapters translate raw transport failures into one of these kinds;
// upper layers branch on the kind alone and never inspect transport details.
package synerr

import (
	"errors"
	"fmt"
)

// Kind is the broad category of a failure, used for routing and retry decisions.
type Kind string

const (
	// KindConfig covers malformed or invalid configuration. Fatal at startup.
	KindConfig Kind = "config"
	// KindStateCorrupt covers unreadable persisted state. Recoverable: the
	// orchestrator resets to empty state and reprocesses.
	KindStateCorrupt Kind = "state_corrupt"
	// KindStatePersist covers an unwritable state medium. Recoverable: the
	// next cycle retries the save.
	KindStatePersist Kind = "state_persist"
	// KindClassifierAuth covers rejected classifier credentials. Fatal for
	// the cycle, never retried (retrying burns quota for nothing).
	KindClassifierAuth Kind = "classifier_auth"
	// KindClassifierRequest covers malformed classification requests. Fatal
	// for the cycle, never retried.
	KindClassifierRequest Kind = "classifier_request"
	// KindRemoteAuth covers rejected remote list API credentials. Fatal for
	// the cycle.
	KindRemoteAuth Kind = "remote_auth"
	// KindRemoteNotFound covers a missing project or resource on the remote.
	// Fatal for the cycle.
	KindRemoteNotFound Kind = "remote_not_found"
	// KindTransient covers timeouts, rate limits and 5xx-equivalents.
	// Retried with backoff; escalates to cycle failure once attempts are
	// exhausted.
	KindTransient Kind = "transient"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a static message.
func New(kind Kind, msg string) error { return &Error{Kind: kind, Msg: msg} }

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause. A nil cause yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain, or "" when unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Is lets errors.Is match against a bare *Error carrying only a kind.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// IsRetryable reports whether the failure should go through the backoff
// policy. Only transient failures qualify; everything else either aborts
// the cycle or degrades in-band.
func IsRetryable(err error) bool { return KindOf(err) == KindTransient }

// IsCycleFatal reports whether the failure must abort the running cycle.
// Transient errors reaching this check have already exhausted their retries
// and therefore also abort.
func IsCycleFatal(err error) bool {
	switch KindOf(err) {
	case KindClassifierAuth, KindClassifierRequest, KindRemoteAuth, KindRemoteNotFound, KindTransient:
		return true
	default:
		return false
	}
}

// IsProcessFatal reports whether the failure must terminate the process.
// Only configuration failures at startup qualify.
func IsProcessFatal(err error) bool { return KindOf(err) == KindConfig }
