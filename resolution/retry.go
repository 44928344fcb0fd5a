package resolution

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 100 * time.Millisecond
	MaxRetryDelay        = 2 * time.Second
)

// RetryConfig controls backoff for transient registry store failures.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  DefaultRetryAttempts,
		InitialDelay: DefaultRetryDelay,
		MaxDelay:     MaxRetryDelay,
		Multiplier:   2.0,
	}
}

type RetryableFunc func() error

// IsRetryableError reports whether the operation is worth repeating.
// SQLite under concurrent writers surfaces "database is locked" and
// "busy"; those clear on their own.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryable := []string{
		"database is locked",
		"busy",
		"timeout",
		"connection",
		"temporary",
		"deadline exceeded",
	}

	for _, marker := range retryable {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// Retry runs fn with exponential backoff, honoring ctx between
// attempts. Non-retryable errors return immediately.
func Retry(ctx context.Context, fn RetryableFunc, config RetryConfig, operationName string) error {
	logger := slog.Default().With("component", "retry")

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retry",
					"operation", operationName,
					"attempts", attempt)
			}
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt < config.MaxAttempts {
			logger.Warn("Operation failed, retrying",
				"operation", operationName,
				"attempt", attempt,
				"max_attempts", config.MaxAttempts,
				"delay", delay,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		} else {
			logger.Error("Operation failed after all attempts",
				"operation", operationName,
				"attempts", config.MaxAttempts,
				"error", err)
		}
	}

	return lastErr
}
