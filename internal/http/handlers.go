package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/service"
	"github.com/kjstillabower/msn-weather-service/internal/traffic"
)

// WeatherService is the orchestrator as seen by the handlers.
type WeatherService interface {
	GetWeather(ctx context.Context, req service.Request) (models.WeatherRecord, error)
}

// SearchHistory exposes a session's recent searches.
type SearchHistory interface {
	List(sessionID string) []models.RecentSearch
	Clear(sessionID string)
}

// HandlerOptions holds request-identity settings.
type HandlerOptions struct {
	// TrustForwardedFor uses the first X-Forwarded-For address as the rate-limit identity.
	TrustForwardedFor bool
	SecureCookies     bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather  WeatherService
	searches SearchHistory
	outcomes *traffic.Tracker
	health   *HealthConfig
	logger   *zap.Logger
	validate *validator.Validate
	opts     HandlerOptions

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. outcomes and health may be nil.
func NewHandler(weather WeatherService, searches SearchHistory, outcomes *traffic.Tracker, health *HealthConfig, logger *zap.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:  weather,
		searches: searches,
		outcomes: outcomes,
		health:   health,
		logger:   logger,
		validate: newValidator(),
		opts:     opts,
	}
}

// weatherResponse is the public shape of a WeatherRecord.
type weatherResponse struct {
	Location    models.Location `json:"location"`
	Temperature float64         `json:"temperature"`
	FeelsLike   float64         `json:"feels_like"`
	Condition   string          `json:"condition"`
	Humidity    int             `json:"humidity"`
	WindSpeed   float64         `json:"wind_speed"`
}

func toResponse(rec models.WeatherRecord) weatherResponse {
	return weatherResponse{
		Location:    rec.Location,
		Temperature: rec.Temperature,
		FeelsLike:   rec.FeelsLike,
		Condition:   rec.Condition,
		Humidity:    rec.Humidity,
		WindSpeed:   rec.WindSpeed,
	}
}

// GetWeather handles GET /api/weather?city=&country=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := cityQuery{City: r.URL.Query().Get("city"), Country: r.URL.Query().Get("country")}
	loc, err := h.cityLocation(q, "Both 'city' and 'country' parameters are required")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.serveWeather(w, r, loc)
}

// PostWeather handles POST /api/weather with body {"city": ..., "country": ...}.
func (h *Handler) PostWeather(w http.ResponseWriter, r *http.Request) {
	q, err := decodeCityBody(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.cityLocation(q, "Both 'city' and 'country' fields are required")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.serveWeather(w, r, loc)
}

// GetWeatherByCoordinates handles GET /api/weather/coordinates?lat=&lon=.
func (h *Handler) GetWeatherByCoordinates(w http.ResponseWriter, r *http.Request) {
	q := coordinateQuery{Lat: r.URL.Query().Get("lat"), Lon: r.URL.Query().Get("lon")}
	loc, err := h.coordinateLocation(q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.serveWeather(w, r, loc)
}

func (h *Handler) serveWeather(w http.ResponseWriter, r *http.Request, loc models.Location) {
	req := service.Request{
		ClientID:  h.clientID(r),
		SessionID: h.ensureSession(w, r),
		Location:  loc,
	}
	rec, err := h.weather.GetWeather(r.Context(), req)
	if err != nil {
		h.recordOutcome(err)
		writeServiceError(w, r, err)
		return
	}
	h.recordOutcome(nil)
	writeJSON(w, http.StatusOK, toResponse(rec))
}

// recordOutcome feeds the health error-rate window. Unresolvable coordinates are the
// caller's problem and are not counted either way.
func (h *Handler) recordOutcome(err error) {
	if h.outcomes == nil {
		return
	}
	var rle *service.RateLimitError
	switch {
	case err == nil:
		h.outcomes.Record(traffic.Success)
	case errors.As(err, &rle):
		h.outcomes.Record(traffic.Denied)
	case errors.Is(err, service.ErrLocationNotFound), errors.Is(err, context.Canceled):
	default:
		h.outcomes.Record(traffic.Failure)
	}
}

type recentSearchesResponse struct {
	RecentSearches []models.RecentSearch `json:"recent_searches"`
}

// GetRecentSearches handles GET /api/recent-searches.
func (h *Handler) GetRecentSearches(w http.ResponseWriter, r *http.Request) {
	list := []models.RecentSearch{}
	if id := sessionID(r); id != "" && h.searches != nil {
		list = h.searches.List(id)
	}
	writeJSON(w, http.StatusOK, recentSearchesResponse{RecentSearches: list})
}

// DeleteRecentSearches handles DELETE /api/recent-searches.
func (h *Handler) DeleteRecentSearches(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" && h.searches != nil {
		h.searches.Clear(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Recent searches cleared"})
}
