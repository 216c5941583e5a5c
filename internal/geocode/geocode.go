// Package geocode resolves coordinates to the city and country the weather page is addressed by.
package geocode

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound means the backend resolved no populated place for the coordinates.
var ErrNotFound = errors.New("no place found for coordinates")

// Place is a reverse-geocoding result.
type Place struct {
	City    string
	Country string
}

// ReverseGeocoder resolves a coordinate pair to a Place.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Place, error)
}

// Chain tries each geocoder in order. ErrNotFound is authoritative and stops the chain;
// any other error falls through to the next backend.
type Chain []ReverseGeocoder

func (c Chain) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	if len(c) == 0 {
		return Place{}, errors.New("geocode: no backends configured")
	}
	var errs []error
	for _, g := range c {
		p, err := g.Reverse(ctx, lat, lon)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return Place{}, err
		}
		errs = append(errs, err)
	}
	return Place{}, fmt.Errorf("geocode: all backends failed: %w", errors.Join(errs...))
}
