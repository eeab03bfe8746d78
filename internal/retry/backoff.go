// Package retry re-attempts client operations against a device that
// may be briefly unreachable, typically while it reboots into a newly
// flashed image.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	ncerr "otad/internal/errors"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff implements exponential backoff with optional jitter.
type Backoff struct {
	InitialDelay time.Duration // default 500ms
	MaxDelay     time.Duration // default 5s
	Multiplier   float64       // default 2.0
	// MaxAttempts counts the first try; 0 retries until ctx ends.
	MaxAttempts int
	Jitter      bool // ±25%

	// Retryable classifies failures that are not marked Permanent.
	// Nil retries everything.
	Retryable func(error) bool

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DialBackoff returns the policy used for reaching a device: only
// network failures are retried.
func DialBackoff(attempts int) *Backoff {
	return &Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
		Jitter:       true,
		Retryable:    ncerr.IsRetryable,
	}
}

// Do executes fn until it succeeds, returns a permanent or
// non-retryable error, or the attempt budget or ctx runs out.  The
// attempt passed to fn is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := b.MaxDelay
	if maxDelay == 0 {
		maxDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-t.C:
		}

		delay = min(time.Duration(float64(delay)*multiplier), maxDelay)
	}
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
