package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with correct defaults", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)

		assert.Equal(t, 100*time.Millisecond, eb.InitialInterval)
		assert.Equal(t, 5*time.Second, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 3, eb.MaxRetries())
		assert.True(t, eb.Jitter)
	})

	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			retry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, retry)
			assert.Greater(t, delay, time.Duration(0))
		}

		retry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, retry)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("NextDelay grows exponentially and caps", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)
		eb.Jitter = false

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{2, 400 * time.Millisecond},
			{4, 1600 * time.Millisecond},
			{10, 10 * time.Second},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.expected, eb.NextDelay(tt.attempt))
		}
	})

	t.Run("jitter stays within 15 percent", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)

		for i := 0; i < 20; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})

	t.Run("respects non-retryable errors", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 3)

		retry, _ := eb.ShouldRetry(0, Permanent(errors.New("bad input")))
		assert.False(t, retry)

		retry, _ = eb.ShouldRetry(0, ErrNonRetryable)
		assert.False(t, retry)
	})
}

func TestFixedDelay(t *testing.T) {
	fd := NewFixedDelay(50*time.Millisecond, 2)

	retry, delay := fd.ShouldRetry(0, errors.New("x"))
	assert.True(t, retry)
	assert.Equal(t, 50*time.Millisecond, delay)

	retry, _ = fd.ShouldRetry(2, errors.New("x"))
	assert.False(t, retry)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 3), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up with RetryError", func(t *testing.T) {
		cause := errors.New("always")
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 2), func() error {
			attempts++
			return cause
		})

		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.ErrorIs(t, err, cause)

		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 3, retryErr.Attempts)
	})

	t.Run("non-retryable error is returned unchanged", func(t *testing.T) {
		cause := Permanent(errors.New("bad input"))
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			return cause
		})

		assert.Equal(t, cause, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("hook sees every retry", func(t *testing.T) {
		var seen []int
		_ = RetryWithHook(ctx, NewFixedDelay(time.Millisecond, 2), func(attempt int, err error, delay time.Duration) {
			seen = append(seen, attempt)
		}, failing)

		assert.Equal(t, []int{0, 1}, seen)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		attempts := 0
		err := Retry(cancelled, NewFixedDelay(time.Hour, 5), func() error {
			attempts++
			cancel()
			return errors.New("transient")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
