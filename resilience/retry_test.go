package resilience

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		Backoff:         Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		RetryableErrors: DefaultRetryableErrors,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		return errors.New("persistent error")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestRetry_NonRetryableError(t *testing.T) {
	config := fastRetry(3)
	config.RetryableErrors = func(err error) bool { return err.Error() != "non-retryable" }
	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("non-retryable")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	config := fastRetry(10)
	config.Backoff = Backoff{Base: time.Second, Max: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return errors.New("temporary")
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, attempts)
}

func TestDefaultRetryableErrors(t *testing.T) {
	assert.False(t, DefaultRetryableErrors(nil))
	assert.False(t, DefaultRetryableErrors(ErrCircuitOpen))
	assert.False(t, DefaultRetryableErrors(context.Canceled))
	assert.False(t, DefaultRetryableErrors(errors.Wrap(context.DeadlineExceeded, "dial")))
	assert.False(t, DefaultRetryableErrors(io.EOF))
	assert.True(t, DefaultRetryableErrors(errors.New("connection refused")))
}
