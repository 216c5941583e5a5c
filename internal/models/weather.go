package models

import (
	"strconv"
	"time"
)

// Location identifies a lookup target. Exactly one addressing mode is populated:
// City/Country for name lookups, Latitude/Longitude for coordinate lookups.
// A coordinate location may additionally carry the city/country it was resolved to.
type Location struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// NewCityLocation returns a name-addressed location.
func NewCityLocation(city, country string) Location {
	return Location{City: city, Country: country}
}

// NewCoordinateLocation returns a coordinate-addressed location.
func NewCoordinateLocation(lat, lon float64) Location {
	return Location{Latitude: &lat, Longitude: &lon}
}

// IsCoordinates reports whether the location is addressed by latitude/longitude.
func (l Location) IsCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// WithPlace returns a copy of a coordinate location annotated with the resolved city and country.
func (l Location) WithPlace(city, country string) Location {
	l.City = city
	l.Country = country
	return l
}

// String is used in logs and metric labels.
func (l Location) String() string {
	if l.IsCoordinates() {
		return strconv.FormatFloat(*l.Latitude, 'f', 4, 64) + "," + strconv.FormatFloat(*l.Longitude, 'f', 4, 64)
	}
	return l.City + "," + l.Country
}

// WeatherRecord is the normalized current-conditions result.
type WeatherRecord struct {
	Location    Location  `json:"location"`
	Temperature float64   `json:"temperature"` // °C
	FeelsLike   float64   `json:"feels_like"`  // °C
	Condition   string    `json:"condition"`
	Humidity    int       `json:"humidity"`   // percent, 0-100
	WindSpeed   float64   `json:"wind_speed"` // km/h
	ObservedAt  time.Time `json:"observed_at"`
}

// RecentSearch is one entry of a session's search history.
type RecentSearch struct {
	Location   Location  `json:"location"`
	SearchedAt time.Time `json:"searched_at"`
}
