package queue

import (
	"math/rand"
	"time"
)

// RetryConfig controls backoff between job attempts.
type RetryConfig struct {
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
	// JitterFrac randomizes each delay by +/- this fraction to spread
	// retries from workers that failed together.
	JitterFrac float64
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// MaxAttempts parks a job as failed once exceeded.
	MaxAttempts int
}

// DefaultRetryConfig returns the standard policy: 5s base doubling per
// attempt with 10% jitter, capped at 5 minutes and 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:   5 * time.Second,
		Multiplier:  2.0,
		JitterFrac:  0.1,
		MaxDelay:    5 * time.Minute,
		MaxAttempts: 5,
	}
}

// Delay returns the backoff before retrying after the given attempt count
// (1-based: the delay after the first failure is Delay(1)).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	maxDelay := float64(c.MaxDelay)
	if maxDelay <= 0 {
		maxDelay = float64(DefaultRetryConfig().MaxDelay)
	}
	d := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= c.Multiplier
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if c.JitterFrac > 0 {
		d += d * c.JitterFrac * (2*rand.Float64() - 1)
	}
	if d > maxDelay {
		d = maxDelay
	}
	return time.Duration(d)
}
