package client

import (
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy decides how many attempts a fetch gets, how long to wait between them
// and which failures are worth another attempt.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay before the given retry (attempt is 1 for the first retry).
	Backoff func(attempt int) time.Duration
	// Retryable reports whether err from an attempt should be retried.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns 3 attempts with linear backoff of base, 2*base and the
// default retryable predicate.
func DefaultRetryPolicy(base time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(base, 0),
		Retryable:   IsRetryable,
	}
}

// LinearBackoff waits attempt*base. jitter is a fraction (0.1 = up to +10%) added at random
// to spread concurrent retries; 0 disables it.
func LinearBackoff(base time.Duration, jitter float64) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := time.Duration(attempt) * base
		if jitter > 0 {
			d += time.Duration(float64(d) * jitter * rand.Float64())
		}
		return d
	}
}

// IsRetryable retries server errors, network failures and timeouts. Client errors (4xx),
// an open circuit and oversized bodies are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	switch KindOf(err) {
	case KindServerError, KindNetworkError, KindTimeout:
		return true
	}
	return false
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsRetryable(err)
	}
	return p.Retryable(err)
}
