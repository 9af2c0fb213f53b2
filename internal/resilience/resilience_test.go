package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/walletwatch/internal/resilience"
)

func fastConfig(retries int) resilience.Config {
	return resilience.Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(3), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RetriesOnFailure(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(2), func() error {
		callCount++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	badRequest := errors.New("status 400")
	callCount := 0

	err := resilience.RetryWithBackoff(context.Background(), fastConfig(5), func() error {
		callCount++
		return resilience.Permanent(badRequest)
	})

	if !errors.Is(err, badRequest) {
		t.Fatalf("expected the wrapped error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test")

	got, err := resilience.Call(context.Background(), cb, fastConfig(1), func() (string, error) {
		return "report", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "report" {
		t.Errorf("expected report, got %q", got)
	}
}

func TestCall_OpensBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test")
	failing := func() (int, error) { return 0, errors.New("down") }

	for i := 0; i < 5; i++ {
		if _, err := resilience.Call(context.Background(), cb, fastConfig(0), failing); err == nil {
			t.Fatal("expected failure")
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}

	called := false
	_, err := resilience.Call(context.Background(), cb, fastConfig(0), func() (int, error) {
		called = true
		return 1, nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if called {
		t.Error("open breaker must not run the call")
	}
}

func TestCall_PermanentErrorsKeepBreakerClosed(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test")
	badRequest := errors.New("status 400")

	for i := 0; i < 10; i++ {
		_, err := resilience.Call(context.Background(), cb, fastConfig(2), func() (int, error) {
			return 0, resilience.Permanent(badRequest)
		})
		if !errors.Is(err, badRequest) {
			t.Fatalf("expected the wrapped error, got %v", err)
		}
	}

	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}

	got, err := resilience.Call(context.Background(), cb, fastConfig(0), func() (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Errorf("expected call to go through, got %d, %v", got, err)
	}
}
