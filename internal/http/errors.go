package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/client"
	"github.com/kjstillabower/msn-weather-service/internal/extract"
	"github.com/kjstillabower/msn-weather-service/internal/observability"
	"github.com/kjstillabower/msn-weather-service/internal/service"
)

// Error kinds returned in the "error" field of every failure response.
const (
	KindValidation       = "ValidationError"
	KindRateLimit        = "RateLimitError"
	KindFetch            = "FetchError"
	KindParse            = "ParseError"
	KindLocationNotFound = "LocationNotFound"
	KindInternal         = "InternalError"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// classifyError maps a lookup failure to status, kind and a message safe to show callers.
// Wrapped causes never reach the response body.
func classifyError(err error) (int, string, string) {
	var (
		rle      *service.RateLimitError
		fetchErr *client.FetchError
		parseErr *extract.ParseError
		reqErr   *requestError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, KindValidation, reqErr.msg
	case errors.As(err, &rle):
		return http.StatusTooManyRequests, KindRateLimit, rle.Error()
	case errors.Is(err, service.ErrLocationNotFound):
		return http.StatusNotFound, KindLocationNotFound, "Could not determine a city for the given coordinates"
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, KindParse, "Weather data could not be read from the upstream page"
	case errors.As(err, &fetchErr):
		switch {
		case fetchErr.Kind == client.KindTimeout:
			return http.StatusGatewayTimeout, KindFetch, "Upstream weather source timed out"
		case errors.Is(err, client.ErrCircuitOpen):
			return http.StatusBadGateway, KindFetch, "Upstream weather source is temporarily unavailable"
		case fetchErr.Kind == client.KindClientError:
			return http.StatusBadGateway, KindFetch, "Upstream weather source rejected the request"
		default:
			return http.StatusBadGateway, KindFetch, "Unable to fetch weather data"
		}
	case errors.Is(err, service.ErrGeocoding):
		return http.StatusBadGateway, KindFetch, "Reverse geocoding is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindFetch, "Upstream weather source timed out"
	default:
		return http.StatusInternalServerError, KindInternal, "An internal error occurred"
	}
}

// writeServiceError writes the mapped failure, adding Retry-After on rate limiting.
// The underlying error is logged at DEBUG level, or WARN for unexpected 5xx.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, msg := classifyError(err)
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rle)))
	}
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		if status == http.StatusInternalServerError {
			logger.Warn("request failed", zap.String("kind", kind), zap.Error(err))
		} else {
			logger.Debug("request failed", zap.String("kind", kind), zap.Int("status", status), zap.Error(err))
		}
	}
	writeError(w, status, kind, msg)
}

// retryAfterSeconds rounds up so a client never retries before the window rolls over.
func retryAfterSeconds(e *service.RateLimitError) int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
