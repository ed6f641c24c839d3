// Package retry provides a bounded retry loop with pluggable backoff for
// transient failures of the search API.
//
// The loop is explicit: attempt n is followed by another attempt only when
// Config.ShouldRetry(n, err) holds, so a policy of MaxAttempts = k makes at
// most k calls, never more and (for a persistent retryable error) never
// fewer.
//
// Basic usage:
//
//	cfg := &retry.Config{
//		MaxAttempts: maxRetries + 1,
//		Backoff:     &retry.RandomBackoff{Min: time.Second, Max: 15 * time.Second},
//		RetryIf:     retry.DefaultRetryIf,
//		Context:     ctx,
//		Logger:      logger.GetLogger(),
//	}
//	err := retry.Do(operation, cfg)
//
// Errors of type errors.Error are retried according to errors.IsRetryable;
// context cancellation is never retried; anything else is retried.
package retry
