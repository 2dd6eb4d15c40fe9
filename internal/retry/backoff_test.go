package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	kerr "ksession/internal/errors"
)

func fastBackoff(maxAttempts int) *Backoff {
	return &Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   1.5,
		MaxAttempts:  maxAttempts,
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	b := fastBackoff(10)
	var waits []time.Duration
	b.OnRetry = func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) }

	calls := 0
	err := b.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errRefused
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || len(waits) != 2 {
		t.Errorf("calls=%d retries=%d", calls, len(waits))
	}
}

func TestBackoff_Permanent(t *testing.T) {
	calls := 0
	bad := errors.New("unknown host key")
	err := DefaultBackoff().Do(context.Background(), func(int) error {
		calls++
		return fmt.Errorf("handshake: %w", Permanent(bad))
	})
	if err != bad {
		t.Errorf("err = %v, want the unwrapped permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestBackoff_Retryable(t *testing.T) {
	b := fastBackoff(5)
	b.Retryable = kerr.IsRetryable

	// A timed-out dial is retried.
	calls := 0
	timeout := kerr.Wrap("dial", "127.0.0.1:1", &net.OpError{Op: "dial", Err: timeoutErr{}})
	_ = b.Do(context.Background(), func(int) error { calls++; return timeout })
	if calls != 5 {
		t.Errorf("retryable error tried %d times, want 5", calls)
	}

	// A configuration error is not.
	calls = 0
	cfgErr := &kerr.ConfigError{Field: "port", Message: "out of range"}
	err := b.Do(context.Background(), func(int) error { calls++; return cfgErr })
	if calls != 1 || !errors.As(err, &cfgErr) {
		t.Errorf("non-retryable: calls=%d err=%v", calls, err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestBackoff_MaxAttempts(t *testing.T) {
	calls := 0
	err := fastBackoff(3).Do(context.Background(), func(int) error {
		calls++
		return errRefused
	})
	if !errors.Is(err, errRefused) || calls != 3 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestBackoff_ContextCancelled(t *testing.T) {
	b := &Backoff{InitialDelay: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	began := time.Now()
	err := b.Do(ctx, func(int) error { return errRefused })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if time.Since(began) > time.Second {
		t.Error("cancellation did not cut the wait short")
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := &Backoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}

	var zero Backoff
	if got := zero.Delay(1); got != time.Second {
		t.Errorf("zero Backoff first delay = %v, want 1s", got)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := &Backoff{InitialDelay: 100 * time.Millisecond, Jitter: true}
	lower, upper := 74*time.Millisecond, 126*time.Millisecond
	for i := 0; i < 100; i++ {
		if d := b.Delay(1); d < lower || d > upper {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lower, upper)
		}
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"permanent", Permanent(errRefused), true},
		{"wrapped", fmt.Errorf("dial: %w", Permanent(errRefused)), true},
		{"plain", errRefused, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent = %v, want %v", got, tt.want)
			}
		})
	}
}
