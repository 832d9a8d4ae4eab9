// internal/store/retry.go
package store

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const defaultJitterFactor = 0.3

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")
)

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// do runs fn until it succeeds, fails with a non retryable error or runs out of attempts.
// Delays grow as baseDelay * 2^(attempt-2) plus jitter. It returns the number of attempts made.
func (c retryConfig) do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.baseDelay * time.Duration(1<<(attempt-2))
			jitter := rand.Float64() * float64(delay) * c.jitterFactor //nolint:gosec // jitter only

			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil || !IsRetryable(lastErr) {
			return attempt, lastErr
		}
	}

	return c.maxAttempts, lastErr
}

// IsRetryable reports whether err is a transient conflict between concurrent transactions.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationFailure) ||
		errors.Is(err, ErrStaleCopy) ||
		errors.Is(err, ErrStaleRecord)
}
