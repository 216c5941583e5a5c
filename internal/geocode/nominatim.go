package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"

// Nominatim reverse geocodes against an OpenStreetMap Nominatim endpoint.
// Requests are paced to one per second, the public instance's usage limit.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	pacer     *rate.Limiter
}

// NewNominatim creates a Nominatim geocoder. Empty baseURL uses the public instance.
func NewNominatim(baseURL, userAgent string, timeout time.Duration) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = "msn-weather-service"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Nominatim{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		pacer:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		Country string `json:"country"`
	} `json:"address"`
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	if err := n.pacer.Wait(ctx); err != nil {
		return Place{}, err
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("accept-language", "en")
	q.Set("zoom", "10")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("nominatim: build request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("nominatim: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Place{}, fmt.Errorf("nominatim: decode: %w", err)
	}
	if body.Error != "" {
		return Place{}, ErrNotFound // "Unable to geocode" for oceans and the like
	}
	a := body.Address
	city := firstNonEmpty(a.City, a.Town, a.Village, a.County)
	if city == "" || a.Country == "" {
		return Place{}, ErrNotFound
	}
	return Place{City: city, Country: a.Country}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
