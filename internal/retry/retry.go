package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls Do
type Config struct {
	MaxRetries int
	RetryDelay time.Duration

	// Retryable reports whether err is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error or
// MaxRetries attempts are used, doubling the delay after each failure
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}

		if i < attempts-1 {
			delay := time.Duration(1<<uint(i)) * cfg.RetryDelay
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
