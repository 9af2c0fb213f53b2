// Package resilience provides retry with exponential backoff and a circuit
// breaker for calls to external services.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds retry parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultConfig retries twice starting at 200ms.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
	}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so RetryWithBackoff returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff executes fn with exponential backoff and jitter until it
// succeeds, returns a Permanent error or the retries run out.
// It respects context cancellation.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			wait := backoff
			if half := int64(backoff / 2); half > 0 {
				wait += time.Duration(rand.Int63n(half))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

// NewCircuitBreaker creates a breaker that opens once at least five requests
// in a 30s window failed 60% of the time, and probes again after 10s.
// Permanent errors and caller cancellation mean the upstream answered or was
// never asked, so they do not count as failures.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			var perm *permanentError
			return err == nil || errors.As(err, &perm) || errors.Is(err, context.Canceled)
		},
	})
}

// Call runs fn through cb, retrying inside the breaker so that one logical
// call counts as one breaker request.
func Call[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	result, err := cb.Execute(func() (any, error) {
		var out T
		permanent := false
		err := RetryWithBackoff(ctx, cfg, func() error {
			var err error
			out, err = fn()
			var perm *permanentError
			permanent = errors.As(err, &perm)
			return err
		})
		if err != nil {
			if permanent {
				// Keep the marker so the breaker can tell it apart.
				return nil, &permanentError{err: err}
			}
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		return zero, err
	}
	return result.(T), nil
}
