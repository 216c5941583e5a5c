package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrMarkerNotFound means the page carried no recognizable embedded weather payload.
	ErrMarkerNotFound = errors.New("embedded weather payload not found")
	// ErrMalformedPayload means a payload block was found but could not be decoded.
	ErrMalformedPayload = errors.New("malformed embedded payload")
	// ErrInvalidField means a required field was missing, of the wrong type or out of range.
	ErrInvalidField = errors.New("invalid field in embedded payload")
)

// ParseError is returned for every extraction failure. Err is one of the sentinels above.
type ParseError struct {
	Err    error
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReasonLabel maps a parse failure to a low-cardinality metric label.
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrMarkerNotFound):
		return "marker_not_found"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrInvalidField):
		return "invalid_field"
	default:
		return "unknown"
	}
}

func newParseError(sentinel error, format string, args ...any) *ParseError {
	return &ParseError{Err: sentinel, Reason: fmt.Sprintf(format, args...)}
}

// rank orders failures by how much of the payload was understood; Parse reports the highest.
func rank(err *ParseError) int {
	switch err.Err {
	case ErrInvalidField:
		return 3
	case ErrMalformedPayload:
		return 2
	default:
		return 1
	}
}
