package extract

import (
	"math"
	"strconv"
	"strings"
	"time"
)

type layout struct {
	locate func(doc map[string]any) (map[string]any, bool)
	decode func(fields map[string]any) (Observation, *ParseError)
}

// Tried in order for every candidate.
var layouts = []layout{
	{locate: locateCurrent, decode: decodeCurrent},
	{locate: locateMSNState, decode: decodeMSNState},
}

var currentKeys = []string{"temp", "feelsLike", "condition", "humidity", "windSpeed"}

// locateCurrent matches a flat metric object, either at the top level or under "current".
func locateCurrent(doc map[string]any) (map[string]any, bool) {
	if inner, ok := doc["current"].(map[string]any); ok && hasAnyKey(inner, currentKeys) {
		return inner, true
	}
	if hasAnyKey(doc, currentKeys) {
		return doc, true
	}
	return nil, false
}

func decodeCurrent(m map[string]any) (Observation, *ParseError) {
	var (
		obs = Observation{Layout: "current"}
		err *ParseError
	)
	if obs.Temperature, err = numberField(m, "temp", false); err != nil {
		return Observation{}, err
	}
	if obs.FeelsLike, err = numberField(m, "feelsLike", false); err != nil {
		return Observation{}, err
	}
	if obs.Condition, err = stringField(m, "condition"); err != nil {
		return Observation{}, err
	}
	if obs.Humidity, err = humidityField(m, "humidity", false); err != nil {
		return Observation{}, err
	}
	if obs.WindSpeed, err = windField(m, "windSpeed", false); err != nil {
		return Observation{}, err
	}
	if obs.ObservedAt, err = timeField(m, "observedAt"); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// locateMSNState matches WeatherData._@STATE@_ and returns forecast[0].hourly[0].
// A payload that has WeatherData but not the full path still matches so the failure
// is reported as an invalid field instead of a missing marker.
func locateMSNState(doc map[string]any) (map[string]any, bool) {
	wd, ok := doc["WeatherData"].(map[string]any)
	if !ok {
		return nil, false
	}
	hourly := map[string]any{}
	state, _ := wd["_@STATE@_"].(map[string]any)
	if first, ok := firstObject(state, "forecast"); ok {
		if h, ok := firstObject(first, "hourly"); ok {
			hourly = h
		}
	}
	return hourly, true
}

func decodeMSNState(m map[string]any) (Observation, *ParseError) {
	if len(m) == 0 {
		return Observation{}, newParseError(ErrInvalidField, "WeatherData state has no forecast[0].hourly[0]")
	}
	obs := Observation{Layout: "msn-state"}

	tempF, err := numberField(m, "temperature", true)
	if err != nil {
		return Observation{}, err
	}
	feelsF, err := numberField(m, "feels", true)
	if err != nil {
		return Observation{}, err
	}
	obs.Temperature = round1(fahrenheitToCelsius(tempF))
	obs.FeelsLike = round1(fahrenheitToCelsius(feelsF))

	condKey := "cap"
	if _, ok := m[condKey]; !ok {
		condKey = "summary"
	}
	if obs.Condition, err = stringField(m, condKey); err != nil {
		return Observation{}, err
	}
	if obs.Humidity, err = humidityField(m, "humidity", true); err != nil {
		return Observation{}, err
	}
	windMph, err := windField(m, "windSpeed", true)
	if err != nil {
		return Observation{}, err
	}
	obs.WindSpeed = round1(windMph * mphToKmh)
	return obs, nil
}

const mphToKmh = 1.60934

func fahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func firstObject(m map[string]any, key string) (map[string]any, bool) {
	list, ok := m[key].([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	first, ok := list[0].(map[string]any)
	return first, ok
}

// numberField reads a finite number. lenient also accepts numeric strings, optionally with a
// trailing "%", which is how the MSN state blob encodes some readings.
func numberField(m map[string]any, key string, lenient bool) (float64, *ParseError) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, newParseError(ErrInvalidField, "%s is missing", key)
	}
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case string:
		if !lenient {
			return 0, newParseError(ErrInvalidField, "%s must be a number, got string", key)
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, newParseError(ErrInvalidField, "%s is not numeric: %q", key, t)
		}
		v = f
	default:
		return 0, newParseError(ErrInvalidField, "%s must be a number, got %T", key, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, newParseError(ErrInvalidField, "%s is not finite", key)
	}
	return v, nil
}

func humidityField(m map[string]any, key string, lenient bool) (int, *ParseError) {
	v, err := numberField(m, key, lenient)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, newParseError(ErrInvalidField, "%s must be a whole number, got %v", key, v)
	}
	if v < 0 || v > 100 {
		return 0, newParseError(ErrInvalidField, "%s out of range [0,100]: %v", key, v)
	}
	return int(v), nil
}

func windField(m map[string]any, key string, lenient bool) (float64, *ParseError) {
	v, err := numberField(m, key, lenient)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, newParseError(ErrInvalidField, "%s must not be negative: %v", key, v)
	}
	return v, nil
}

func stringField(m map[string]any, key string) (string, *ParseError) {
	s, ok := m[key].(string)
	if !ok {
		return "", newParseError(ErrInvalidField, "%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", newParseError(ErrInvalidField, "%s is empty", key)
	}
	return s, nil
}

// timeField is optional: absent yields the zero time.
func timeField(m map[string]any, key string) (time.Time, *ParseError) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, newParseError(ErrInvalidField, "%s must be an RFC 3339 string", key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, newParseError(ErrInvalidField, "%s: %v", key, err)
	}
	return t.UTC(), nil
}
