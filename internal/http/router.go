package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/observability"
)

// RouterConfig controls middleware applied by NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	// AllowedOrigins for CORS. Empty allows any origin without credentials.
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires the API routes under /api and /api/v1, plus health and metrics.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(InFlightMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/health/live", h.GetLiveness).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/health/ready", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	for _, prefix := range []string{"/api", "/api/v1"} {
		api := router.PathPrefix(prefix).Subrouter()
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
		api.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
		api.HandleFunc("/weather", h.PostWeather).Methods(http.MethodPost)
		api.HandleFunc("/weather/coordinates", h.GetWeatherByCoordinates).Methods(http.MethodGet)
		api.HandleFunc("/recent-searches", h.GetRecentSearches).Methods(http.MethodGet)
		api.HandleFunc("/recent-searches", h.DeleteRecentSearches).Methods(http.MethodDelete)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", correlationHeader},
		ExposedHeaders:   []string{correlationHeader, "Retry-After"},
		AllowCredentials: len(cfg.AllowedOrigins) > 0,
	})
	return c.Handler(router)
}
