// Package retry runs collaborator calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig configures attempts and delays
type BackoffConfig struct {
	MaxAttempts     int           // total attempts, including the first
	InitialInterval time.Duration // delay before the second attempt
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool

	// OnRetry is called before each delayed retry
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultBackoffConfig is three attempts, 1s then 2s apart
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// ExponentialBackoff returns the delay before attempt n (n >= 2)
func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 2 {
			return jitter(config, config.InitialInterval)
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-2))
		if config.MaxInterval > 0 && interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}

		return jitter(config, time.Duration(interval))
	}
}

func jitter(config BackoffConfig, d time.Duration) time.Duration {
	if !config.Jitter || d < 2 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)))
}

// StopError wraps an error to indicate that retries should stop immediately
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error to indicate that retries should stop immediately
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return StopError{Err: err}
}

// IsStopError checks if an error is a StopError
func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}

// Do calls fn until it succeeds, returns a StopError, the attempts run
// out or ctx is done. The returned error wraps the last failure.
func Do[T any](ctx context.Context, config BackoffConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := ExponentialBackoff(config)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoff(attempt)
			if config.OnRetry != nil {
				config.OnRetry(attempt, delay, lastErr)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled by context: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		var stopErr StopError
		if errors.As(err, &stopErr) {
			return zero, stopErr.Err
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// Run is Do for calls without a result
func Run(ctx context.Context, config BackoffConfig, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
