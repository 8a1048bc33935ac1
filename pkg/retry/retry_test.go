package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errUpload       = errors.New("upload failed")
	errNonRetryable = errors.New("non-retryable error")
	errRetryable    = errors.New("retryable error")
)

func fastConfig(maxAttempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errUpload
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(2), func() error {
		attempts++
		return errUpload
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errUpload)
	assert.Equal(t, 3, attempts, "initial attempt plus MaxAttempts retries")
}

func TestRetry_Disabled(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Config{Enabled: false}, func() error {
		attempts++
		return errUpload
	})

	assert.ErrorIs(t, err, errUpload)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		attempts++
		return errUpload
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_NonRetryableError(t *testing.T) {
	cfg := fastConfig(3)
	cfg.NonRetryableErrors = []error{errNonRetryable}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("wrapped: %w", errNonRetryable)
	})

	assert.ErrorIs(t, err, errNonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_Permanent(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		return Permanent(errUpload)
	})

	assert.ErrorIs(t, err, errUpload)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Nil(t, Permanent(nil))
}

func TestRetry_RetryableErrorList(t *testing.T) {
	cfg := fastConfig(3)
	cfg.RetryableErrors = []error{errRetryable}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 2 {
			return errRetryable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = Retry(context.Background(), cfg, func() error {
		attempts++
		return errUpload
	})
	assert.ErrorIs(t, err, errUpload)
	assert.Equal(t, 1, attempts, "errors outside the retryable list stop immediately")
}

func TestRetry_OnRetry(t *testing.T) {
	cfg := fastConfig(2)
	var seen []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		assert.ErrorIs(t, err, errUpload)
		seen = append(seen, attempt)
	}

	_ = Retry(context.Background(), cfg, func() error { return errUpload })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errUpload
		}
		return "https://bucket/key", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "https://bucket/key", result)
	assert.Equal(t, 2, attempts)

	n, err := RetryWithResult(context.Background(), fastConfig(1), func() (int, error) {
		return 7, errUpload
	})
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
