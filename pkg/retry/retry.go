package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	Enabled            bool          // Enable/disable retry logic
	MaxAttempts        int           // Retries after the first attempt
	InitialDelay       time.Duration // Delay before the first retry
	MaxDelay           time.Duration // Cap for the backoff delay
	Multiplier         float64       // Exponential backoff multiplier (typically 2.0)
	Jitter             bool          // Randomize each delay by up to ±25%
	RetryableErrors    []error       // Errors that trigger a retry (nil = all errors)
	NonRetryableErrors []error       // Errors that never trigger a retry

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function that returns a result with exponential backoff retry logic
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	if !cfg.Enabled {
		return fn()
	}

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || matches(err, cfg.NonRetryableErrors) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if len(cfg.RetryableErrors) > 0 && !matches(err, cfg.RetryableErrors) {
			return zero, fmt.Errorf("error not in retryable list: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// calculateDelay calculates the delay for exponential backoff
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		delay *= 0.75 + rand.Float64()*0.5
	}

	return time.Duration(delay)
}

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
