package geocode

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
)

// The geocoder package keeps its API key in a package variable.
var googleKeyMu sync.Mutex

// Google reverse geocodes through the Google Maps Geocoding API.
type Google struct {
	apiKey string
}

// NewGoogle returns a Google geocoder for apiKey.
func NewGoogle(apiKey string) *Google {
	return &Google{apiKey: apiKey}
}

func (g *Google) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	type result struct {
		addrs []geocoder.Address
		err   error
	}
	// The library call is not context aware; run it aside and stop waiting on cancellation.
	done := make(chan result, 1)
	go func() {
		googleKeyMu.Lock()
		geocoder.ApiKey = g.apiKey
		addrs, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
		googleKeyMu.Unlock()
		done <- result{addrs, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return Place{}, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		if strings.Contains(r.err.Error(), "ZERO_RESULTS") {
			return Place{}, ErrNotFound
		}
		return Place{}, fmt.Errorf("google geocoding: %w", r.err)
	}
	for _, a := range r.addrs {
		city := firstNonEmpty(a.City, a.County)
		if city != "" && a.Country != "" {
			return Place{City: city, Country: a.Country}, nil
		}
	}
	return Place{}, ErrNotFound
}
