// Package resilience provides retry primitives for upstream calls.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential-backoff retry behaviour.
type RetryConfig struct {
	MaxRetries  int           // retries after the initial attempt
	BackoffBase time.Duration // first backoff; doubles each retry
	BackoffMax  time.Duration // cap on a single backoff
	Jitter      bool          // randomise backoff by ±25%

	// Retryable decides whether an error is worth retrying.
	// nil retries every error.
	Retryable func(error) bool
}

// ProviderRetryConfig is the policy for direct provider calls: three
// attempts total with 1s, 2s backoff between them.
func ProviderRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BackoffBase: 1 * time.Second,
		BackoffMax:  4 * time.Second,
	}
}

// Retry executes fn with exponential backoff until it succeeds, the
// retries are exhausted, or the context is cancelled.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt, config.BackoffBase, config.BackoffMax, config.Jitter)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff computes base * 2^(attempt-1) capped at max, with
// optional ±25% jitter.
func calculateBackoff(attempt int, base, max time.Duration, jitter bool) time.Duration {
	backoff := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if backoff > max {
		backoff = max
	}
	if jitter {
		jitterRange := float64(backoff) * 0.25
		backoff += time.Duration((rand.Float64() - 0.5) * 2 * jitterRange)
	}
	if backoff < 0 {
		backoff = base
	}
	return backoff
}
