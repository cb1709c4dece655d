package codeerr

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential-backoff retry behavior.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// EmbeddingRetryConfig is the embedding client's retry policy: 3 retries,
// 1s/2s/4s backoff, used for HTTP 429 and 5xx responses.
func EmbeddingRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryWithResult runs fn up to cfg.MaxRetries+1 times with exponential
// backoff between attempts, stopping early if ctx is cancelled or shouldRetry
// returns false for the error fn produced.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries || (shouldRetry != nil && !shouldRetry(err)) {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
