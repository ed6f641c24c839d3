package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/logger"
)

// ErrMaxAttemptsExceeded wraps the last error once the attempt budget is spent.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts, first try included (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Context for cancellation
	Context context.Context
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns the search API policy: ten retries after the first
// attempt, each preceded by a random 1 to 15 second pause.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 11,
		Backoff:     DefaultRandomBackoff(),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.GetLogger(),
	}
}

// DefaultRetryIf is the default retry predicate
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}

	// Default to retrying unknown errors
	return true
}

// ShouldRetry decides whether another attempt follows a failed attempt
// number attempt (1-based). It depends only on its arguments and the
// configured limits.
func (c *Config) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if c.MaxAttempts > 0 && attempt >= c.MaxAttempts {
		return false
	}
	return c.RetryIfOrDefault()(err)
}

// Do executes an operation with retry logic
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultRandomBackoff()
	}
	backoff.Reset()

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		if !cfg.ShouldRetry(attempt, err) {
			if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts && cfg.RetryIfOrDefault()(err) {
				if cfg.Logger != nil {
					cfg.Logger.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
						"attempts":   attempt,
						"last_error": err.Error(),
					})
				}
				return fmt.Errorf("%w (%d): %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, err)
			}
			if cfg.Logger != nil {
				cfg.Logger.DebugWithFields("error is not retryable", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return err
		}

		delay := backoff.NextDelay(attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := Wait(ctx, delay); err != nil {
			if cfg.Logger != nil {
				cfg.Logger.WarnWithFields("retry cancelled", map[string]interface{}{
					"attempt": attempt,
					"reason":  err.Error(),
				})
			}
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// RetryIfOrDefault returns the configured predicate or DefaultRetryIf.
func (c *Config) RetryIfOrDefault() func(error) bool {
	if c.RetryIf != nil {
		return c.RetryIf
	}
	return DefaultRetryIf
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)

	return result, err
}
