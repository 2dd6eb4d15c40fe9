package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	kerr "ksession/internal/errors"
)

// fakeClock drives a breaker's notion of time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures, halfOpenMax int, onChange func(from, to State)) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:   maxFailures,
		ResetTimeout:  time.Minute,
		HalfOpenMax:   halfOpenMax,
		OnStateChange: onChange,
	})
	cb.now = clock.now
	return cb, clock
}

var errRefused = errors.New("connection refused")

func fail() error    { return errRefused }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, nil)

	for i := 0; i < 2; i++ {
		cb.Execute(fail) //nolint:errcheck
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("open after 2 of 3 failures")
	}
	if err := cb.Execute(fail); !errors.Is(err, errRefused) {
		t.Errorf("third failure = %v, want the dial error itself", err)
	}
	if cb.CurrentState() != StateOpen || cb.Failures() != 3 {
		t.Errorf("state=%s failures=%d", cb.CurrentState(), cb.Failures())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, 1, nil)
	cb.Execute(fail) //nolint:errcheck

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, kerr.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("dial attempted while open")
	}

	clock.advance(59 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, kerr.ErrCircuitOpen) {
		t.Errorf("admitted before the reset timeout: %v", err)
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name   string
		trials []func() error
		want   State
	}{
		{"one success stays half-open", []func() error{succeed}, StateHalfOpen},
		{"enough successes close", []func() error{succeed, succeed}, StateClosed},
		{"a failure reopens", []func() error{succeed, fail}, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(1, 2, nil)
			cb.Execute(fail) //nolint:errcheck
			clock.advance(2 * time.Minute)

			for _, trial := range tt.trials {
				cb.Execute(trial) //nolint:errcheck
			}
			if got := cb.CurrentState(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_ReopenRestartsTimer(t *testing.T) {
	cb, clock := newTestBreaker(1, 1, nil)
	cb.Execute(fail) //nolint:errcheck
	clock.advance(2 * time.Minute)
	cb.Execute(fail) //nolint:errcheck

	clock.advance(30 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, kerr.ErrCircuitOpen) {
		t.Errorf("err = %v; reopened circuit admitted a call early", err)
	}
}

func TestCircuitBreaker_StateChange(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(1, 1, func(from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	})

	cb.Execute(fail) //nolint:errcheck
	clock.advance(2 * time.Minute)
	cb.Execute(succeed) //nolint:errcheck

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, 1, nil)
	cb.Execute(fail) //nolint:errcheck

	cb.Reset()
	if cb.CurrentState() != StateClosed || cb.Failures() != 0 {
		t.Errorf("state=%s failures=%d", cb.CurrentState(), cb.Failures())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, nil)
	cb.Execute(fail)    //nolint:errcheck
	cb.Execute(fail)    //nolint:errcheck
	cb.Execute(succeed) //nolint:errcheck

	if cb.Failures() != 0 || cb.CurrentState() != StateClosed {
		t.Errorf("state=%s failures=%d", cb.CurrentState(), cb.Failures())
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	for _, cfg := range []*CircuitBreakerConfig{nil, {}} {
		cb := NewCircuitBreaker(cfg)
		if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 2 {
			t.Errorf("NewCircuitBreaker(%v) config = %+v", cfg, cb.cfg)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
