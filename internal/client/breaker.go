package client

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive failed fetches that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a half-open probe.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes may pass while half-open.
	HalfOpenRequests uint32
	OnStateChange    func(name string, from, to gobreaker.State)
}

// NewCircuitBreaker builds a breaker for the upstream source. Client errors (4xx) are the
// caller's problem, not the upstream's, so they do not count as failures.
func NewCircuitBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	threshold := cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) == KindClientError
		},
		OnStateChange: cfg.OnStateChange,
	})
}
