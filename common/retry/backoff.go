// Package retry implements a bounded exponential-backoff policy. Its only
// caller is the gateway, which retries upstream 502/503s with it; stock-engine
// version conflicts and saga persistence faults are not retried through it.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config controls attempt count and backoff shape.
type Config struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	MaxInterval        time.Duration
	BackoffCoefficient float64
	MaxElapsedTime     time.Duration
}

// DefaultConfig is a ≤3-attempts, 50ms-start policy. Nothing in the module
// calls it; the stock engine returns a version conflict without retrying.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialInterval:    50 * time.Millisecond,
		MaxInterval:        time.Second,
		BackoffCoefficient: 2.0,
		MaxElapsedTime:     5 * time.Second,
	}
}

// GatewayConfig matches the 50ms→500ms, max-3-attempts retry policy spec
// section 4.5 item 7 specifies for upstream calls.
func GatewayConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialInterval:    50 * time.Millisecond,
		MaxInterval:        500 * time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxElapsedTime:     2 * time.Second,
	}
}

// Do retries fn until it succeeds, attempts are exhausted, MaxElapsedTime
// passes, or ctx is cancelled.
func Do(ctx context.Context, config Config, logger *zap.Logger, fn func() error) error {
	var lastErr error
	interval := config.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > config.MaxElapsedTime {
			return fmt.Errorf("max elapsed time exceeded: %w", lastErr)
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if logger != nil {
			logger.Warn("retry attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", config.MaxAttempts),
				zap.Error(lastErr))
		}

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * config.BackoffCoefficient)
		if interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	return fmt.Errorf("max attempts reached: %w", lastErr)
}

// DoWithResult is Do for functions that return a value alongside the error.
func DoWithResult[T any](ctx context.Context, config Config, logger *zap.Logger, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	interval := config.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if time.Since(start) > config.MaxElapsedTime {
			return result, fmt.Errorf("max elapsed time exceeded: %w", lastErr)
		}

		r, err := fn()
		if err == nil {
			return r, nil
		}
		result = r
		lastErr = err

		if logger != nil {
			logger.Warn("retry attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", config.MaxAttempts),
				zap.Error(lastErr))
		}

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * config.BackoffCoefficient)
		if interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	return result, fmt.Errorf("max attempts reached: %w", lastErr)
}

// IsIdempotentMethod reports whether an HTTP method is safe to retry,
// per spec section 4.5 item 7 ("never retries non-idempotent methods").
func IsIdempotentMethod(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS", "PUT", "DELETE":
		return true
	default:
		return false
	}
}
