package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// newTestBreaker returns a breaker driven by a manual clock.
func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "test" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3})
	for range 3 {
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("Execute = %v, want the call's own error", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Execute while open = %v (called %v), want ErrCircuitOpen without calling", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed: failures were not consecutive", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func() error
		want   State
	}{
		{name: "enough successes close", probes: []func() error{succeed, succeed}, want: StateClosed},
		{name: "one success stays half-open", probes: []func() error{succeed}, want: StateHalfOpen},
		{name: "failure re-opens", probes: []func() error{succeed, fail}, want: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cb, now := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 2})
			_ = cb.Execute(fail)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v, want open", cb.State())
			}

			*now = now.Add(time.Minute)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state after reset timeout = %v, want half-open", cb.State())
			}
			for _, p := range tt.probes {
				_ = cb.Execute(p)
			}
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	cb, now := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	*now = now.Add(time.Minute)

	// The single probe slot is taken while the probe is in flight.
	err := cb.Execute(func() error {
		if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("concurrent probe = %v, want ErrCircuitOpen", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after the probe succeeded", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()

	cancelled := func() error { return &cancelledError{err: fmt.Errorf("call: %w", errTest)} }

	cb, now := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 1})
	for range 5 {
		_ = cb.Execute(cancelled)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: cancellations are not failures", cb.State())
	}

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	*now = now.Add(time.Minute)

	// A cancelled probe hands its slot back.
	_ = cb.Execute(cancelled)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after a cancelled probe", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()

	ignored := errors.New("bad request")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, ignored) },
	})
	for range 3 {
		if err := cb.Execute(func() error { return ignored }); !errors.Is(err, ignored) {
			t.Fatalf("Execute = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
