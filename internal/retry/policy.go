// Package retry provides the single backoff policy applied by both external
// adapters (remote list API and classifier). Parameterizing retries in one
// place replaces ad hoc retry-with-sleep control flow around each call.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"git.home.luguber.info/inful/shopsync/internal/logfields"
	"git.home.luguber.info/inful/shopsync/internal/synerr"
)

// BackoffMode enumerates supported backoff strategies for retries.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode        BackoffMode   // fixed|linear|exponential
	Initial     time.Duration // base delay
	Max         time.Duration // cap for growth
	MaxAttempts int           // total attempts including the first
	Jitter      bool          // full jitter: delay drawn uniformly from [0, computed]

	// sleep is swappable in tests; nil means a context-aware time.Sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy both adapters use: exponential backoff,
// 1s base, x2 growth, full jitter, 3 attempts total.
func DefaultPolicy() Policy {
	return Policy{
		Mode:        BackoffExponential,
		Initial:     time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 3,
		Jitter:      true,
	}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall
// back to defaults.
func NewPolicy(mode BackoffMode, initial, maxDelay time.Duration, maxAttempts int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	switch mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		p.Mode = mode
	default:
		// unknown -> keep default
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay before the given retry (1-based: the delay
// preceding the first retry => 1). With Jitter set the result is drawn
// uniformly from [0, computed delay].
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case BackoffFixed:
		d = p.Initial
	case BackoffLinear:
		d = time.Duration(retryCount) * p.Initial
	default: // exponential
		d = p.Initial * (1 << (retryCount - 1))
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >=1")
	}
	return nil
}

// Do runs fn up to MaxAttempts times, sleeping the policy delay between
// attempts. Only errors classified retryable (synerr.KindTransient) trigger
// another attempt; anything else is returned immediately. The last transient
// error is returned once attempts are exhausted. Context cancellation aborts
// the wait and surfaces ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !synerr.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		slog.Debug("Retrying after transient failure",
			logfields.Attempt(attempt), logfields.Error(err))
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
