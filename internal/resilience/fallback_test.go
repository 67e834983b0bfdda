package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(cb CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cb})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var called string
	err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "via " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "via secondary" {
		t.Fatalf("got %q, want via secondary", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the underlying error to be wrapped", err)
	}
}

func TestFallbackGroup_SkipsOpenEntry(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var calls []string
	err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Fatalf("calls = %v, want [secondary] (primary circuit should be open)", calls)
	}

	st := fg.Status()
	if len(st) != 2 || st[0].Name != "primary" || st[0].State != StateOpen || st[1].State != StateClosed {
		t.Errorf("Status() = %+v", st)
	}
	if !fg.Available() {
		t.Error("Available() = false while the secondary is closed")
	}
}

func TestFallbackGroup_AvailableFalseWhenAllOpen(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = fg.Execute(func(string) error { return errTest })
	if fg.Available() {
		t.Error("Available() = true with every breaker open")
	}
	if err := fg.Execute(func(string) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen wrapped", err)
	}
}
