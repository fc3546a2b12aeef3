package resilience

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig defines configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call
	MaxRetries int

	// Backoff computes the wait between attempts
	Backoff Backoff

	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Backoff: Backoff{
			Base:   100 * time.Millisecond,
			Max:    2 * time.Second,
			Jitter: 50 * time.Millisecond,
		},
		RetryableErrors: DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) {
		return false
	}
	return true
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// retry budget is spent or ctx is done
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return errors.Wrap(err, "non-retryable error")
		}
		if attempt == config.MaxRetries {
			break
		}

		timer := time.NewTimer(config.Backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "retry cancelled")
		case <-timer.C:
		}
	}
	return errors.Wrapf(lastErr, "max retries exceeded (%d)", config.MaxRetries)
}
