package client

import (
	"net/url"
	"strings"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

// DefaultSourceURL is the MSN forecast page prefix; the "city,country" segment is appended.
const DefaultSourceURL = "https://www.msn.com/en-us/weather/forecast/in-"

// SourceURL returns the page URL for a city/country location.
func SourceURL(base string, loc models.Location) string {
	if base == "" {
		base = DefaultSourceURL
	}
	return base + url.PathEscape(strings.TrimSpace(loc.City)+","+strings.TrimSpace(loc.Country))
}
