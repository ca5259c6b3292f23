package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig configures how lock contention is retried.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryHelper re-runs whole operations that failed on a locked database.
// It is meant for callers wrapping an entire unit of work (for example a
// migration run); individual statements inside a transaction must not be
// retried on their own.
type RetryHelper struct {
	config RetryConfig
	logger *slog.Logger
}

// NewRetryHelper creates a new retry helper
func NewRetryHelper(config RetryConfig, logger *slog.Logger) *RetryHelper {
	return &RetryHelper{config: config, logger: defaultLogger(logger)}
}

// WithRetry runs fn, retrying with exponential backoff while it fails with a
// retryable error. Non-retryable errors are returned immediately.
func (rh *RetryHelper) WithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	delay := rh.config.InitialDelay

	for attempt := 0; attempt <= rh.config.MaxRetries; attempt++ {
		if attempt > 0 {
			rh.logger.Warn("retrying after lock contention",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * rh.config.BackoffFactor)
			if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
				delay = rh.config.MaxDelay
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", rh.config.MaxRetries, MapError(lastErr))
}
