package client

import (
	"errors"
	"fmt"
)

// FetchKind classifies a failed upstream fetch.
type FetchKind string

const (
	KindClientError  FetchKind = "ClientError"
	KindServerError  FetchKind = "ServerError"
	KindNetworkError FetchKind = "NetworkError"
	KindTimeout      FetchKind = "Timeout"
)

var (
	// ErrCircuitOpen is wrapped when the breaker rejects a fetch without calling upstream.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrBodyTooLarge is wrapped when the upstream page exceeds the configured size cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError is returned by Fetcher.Fetch. Attempts is the number of HTTP attempts made
// (0 when the breaker or pacer refused before any attempt).
type FetchError struct {
	Kind       FetchKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the FetchKind of err, or "" when err is not a FetchError.
func KindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
