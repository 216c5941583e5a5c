package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/msn-weather-service/internal/ratelimit"
)

var (
	// ErrLocationNotFound means coordinates could not be resolved to a city and country.
	ErrLocationNotFound = errors.New("location not found")
	// ErrGeocoding means the reverse geocoding backend failed.
	ErrGeocoding = errors.New("reverse geocoding failed")
)

// RateLimitError is returned when a lookup is denied before any upstream work happens.
type RateLimitError struct {
	Scope      ratelimit.Scope
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Scope == ratelimit.ScopeGlobal {
		return fmt.Sprintf("service-wide request limit reached, retry after %s", e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter.Round(time.Second))
}
