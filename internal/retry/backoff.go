// Package retry provides the backoff and circuit breaker used when
// dialing a kernel.  Nothing below the caller-level connect path
// retries; a session that loses its endpoint stays dead.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// PermanentError marks a failure that another attempt cannot fix, such
// as a rejected SSH key or a malformed address.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Backoff.Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff retries an operation with exponentially growing, optionally
// jittered, delays.  Zero fields take the defaults noted below.
type Backoff struct {
	InitialDelay time.Duration // 1s
	MaxDelay     time.Duration // 60s
	Multiplier   float64       // 2.0
	// MaxAttempts counts the first try.  Zero means no limit.
	MaxAttempts int
	Jitter      bool

	// Retryable decides whether a non-permanent error is worth another
	// attempt.  Nil retries every non-permanent error.
	Retryable func(error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultBackoff is the policy for dialing a kernel endpoint.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

// Do calls fn until it returns nil, returns a permanent or
// non-retryable error, runs out of attempts, or ctx ends.  attempt is
// 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var pe *PermanentError
			errors.As(err, &pe)
			return pe.Err
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := b.Delay(attempt)
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// Delay returns the wait after the given failed attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	initial := b.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	ceiling := b.MaxDelay
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}

	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	wait := time.Duration(d)
	if b.Jitter {
		wait = addJitter(wait)
	}
	return wait
}

// addJitter spreads d by up to 25% either way, never below 1ms.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
