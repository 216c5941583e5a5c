// Package extract pulls current conditions out of the structured payload embedded in a weather page.
package extract

import (
	"encoding/json"
	"time"
)

// Observation is the normalized reading found in a page. Units are °C, percent and km/h.
type Observation struct {
	Temperature float64
	FeelsLike   float64
	Condition   string
	Humidity    int
	WindSpeed   float64
	ObservedAt  time.Time // zero when the page did not carry one
	Layout      string
}

// Parse locates the embedded payload in body and maps it to an Observation.
// Every failure is a *ParseError; Parse never substitutes defaults for missing fields.
func Parse(body []byte) (Observation, error) {
	cands := findCandidates(body)
	if len(cands) == 0 {
		return Observation{}, newParseError(ErrMarkerNotFound, "no JSON script block or payload attribute")
	}

	var best *ParseError
	for _, c := range cands {
		obs, perr := parseCandidate(c)
		if perr == nil {
			return obs, nil
		}
		if best == nil || rank(perr) > rank(best) {
			best = perr
		}
	}
	return Observation{}, best
}

func parseCandidate(c candidate) (Observation, *ParseError) {
	var doc any
	if err := json.Unmarshal(c.data, &doc); err != nil {
		return Observation{}, newParseError(ErrMalformedPayload, "%s: %v", c.source, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Observation{}, newParseError(ErrMarkerNotFound, "%s: payload is not an object", c.source)
	}
	for _, l := range layouts {
		fields, found := l.locate(obj)
		if !found {
			continue
		}
		return l.decode(fields)
	}
	return Observation{}, newParseError(ErrMarkerNotFound, "%s: no known weather layout", c.source)
}
