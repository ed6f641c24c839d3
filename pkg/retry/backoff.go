package retry

import (
	"context"
	"math/rand"
	"time"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before the retry that follows attempt
	NextDelay(attempt int) time.Duration
	// Reset resets the backoff strategy to initial state
	Reset()
}

// RandomBackoff waits a uniformly random duration in [Min, Max] before every
// retry. Spreading retries over a wide window keeps many harvesters from
// hitting the search service in lockstep.
type RandomBackoff struct {
	Min time.Duration
	Max time.Duration
	// Rand is the source of randomness; nil uses the package default
	Rand *rand.Rand
}

// DefaultRandomBackoff returns the 1 to 15 second window
func DefaultRandomBackoff() *RandomBackoff {
	return &RandomBackoff{
		Min: 1 * time.Second,
		Max: 15 * time.Second,
	}
}

// NextDelay returns a random delay within the window
func (rb *RandomBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 || rb.Max <= 0 {
		return 0
	}
	lo, hi := rb.Min, rb.Max
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}

	span := int64(hi-lo) + 1
	var n int64
	if rb.Rand != nil {
		n = rb.Rand.Int63n(span)
	} else {
		n = rand.Int63n(span)
	}
	return lo + time.Duration(n)
}

// Reset is a no-op; every delay is drawn independently
func (rb *RandomBackoff) Reset() {}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Reset resets the backoff (no-op for constant backoff)
func (cb *ConstantBackoff) Reset() {}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
