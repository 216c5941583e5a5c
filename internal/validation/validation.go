package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// MaxNameLength is the default rune limit for city and country names.
const MaxNameLength = 100

// ErrEmpty is returned when input is empty or whitespace-only after trim.
var ErrEmpty = errors.New("cannot be empty or only whitespace")

// ErrTooLong is returned when input length exceeds the maximum.
var ErrTooLong = errors.New("exceeds maximum length")

// ErrInvalidChars is returned when input contains characters outside the allow-list
// or a forbidden sequence.
var ErrInvalidChars = errors.New("contains invalid characters")

// ErrLatitudeRange is returned for latitudes outside [-90, 90].
var ErrLatitudeRange = errors.New("latitude must be between -90 and 90")

// ErrLongitudeRange is returned for longitudes outside [-180, 180].
var ErrLongitudeRange = errors.New("longitude must be between -180 and 180")

// forbiddenSequences are rejected even though each rune on its own is allowed.
// ".." covers path traversal, "--" covers SQL comments.
var forbiddenSequences = []string{"..", "--"}

// FieldError names the request field a validation failure belongs to.
type FieldError struct {
	Field string
	Err   error
	Limit int
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrLatitudeRange) || errors.Is(e.Err, ErrLongitudeRange) {
		return e.Err.Error()
	}
	if errors.Is(e.Err, ErrTooLong) && e.Limit > 0 {
		return fmt.Sprintf("%s %s of %d characters", e.Field, e.Err.Error(), e.Limit)
	}
	return e.Field + " " + e.Err.Error()
}

func (e *FieldError) Unwrap() error { return e.Err }

// Sanitize trims input and checks it against the name allow-list: letters (any script),
// combining marks, space, hyphen, period, comma and apostrophe. Control characters,
// digits, SQL/HTML/shell metacharacters and traversal sequences are rejected.
// maxLen is measured in runes; 0 disables the length check.
func Sanitize(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrInvalidChars
		}
	}
	for _, seq := range forbiddenSequences {
		if strings.Contains(s, seq) {
			return "", ErrInvalidChars
		}
	}
	return s, nil
}

// ValidateName runs Sanitize and attributes a failure to field.
func ValidateName(field, input string, maxLen int) (string, error) {
	s, err := Sanitize(input, maxLen)
	if err != nil {
		return "", &FieldError{Field: field, Err: err, Limit: maxLen}
	}
	return s, nil
}

// ValidateCoordinates checks that lat/lon are finite and within range.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return &FieldError{Field: "lat", Err: ErrLatitudeRange}
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return &FieldError{Field: "lon", Err: ErrLongitudeRange}
	}
	return nil
}

// isAllowedNameRune returns true for letters, combining marks, space, hyphen, period, comma, apostrophe.
func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.Is(unicode.M, r) {
		return true
	}
	switch r {
	case ' ', '-', '.', ',', '\'':
		return true
	}
	return false
}
