package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/msn-weather-service/internal/client"
	"github.com/kjstillabower/msn-weather-service/internal/extract"
	"github.com/kjstillabower/msn-weather-service/internal/history"
	"github.com/kjstillabower/msn-weather-service/internal/lifecycle"
	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/ratelimit"
	"github.com/kjstillabower/msn-weather-service/internal/service"
	"github.com/kjstillabower/msn-weather-service/internal/traffic"
)

type mockWeatherService struct {
	mu       sync.Mutex
	record   models.WeatherRecord
	err      error
	requests []service.Request
	// block, when set, makes GetWeather wait for ctx.Done().
	block bool
}

func (m *mockWeatherService) GetWeather(ctx context.Context, req service.Request) (models.WeatherRecord, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return models.WeatherRecord{}, ctx.Err()
	}
	if m.err != nil {
		return models.WeatherRecord{}, m.err
	}
	rec := m.record
	rec.Location = req.Location
	if req.Location.IsCoordinates() {
		rec.Location = req.Location.WithPlace("Seattle", "United States")
	}
	return rec, nil
}

func (m *mockWeatherService) lastRequest(t *testing.T) service.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("GetWeather was not called")
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockWeatherService) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func seattleRecord() models.WeatherRecord {
	return models.WeatherRecord{
		Temperature: 12,
		FeelsLike:   10.5,
		Condition:   "Cloudy",
		Humidity:    80,
		WindSpeed:   15,
		ObservedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestHandler(t *testing.T, svc WeatherService) (*Handler, *history.Store) {
	t.Helper()
	store, err := history.New(100, history.DefaultLimit)
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	return NewHandler(svc, store, traffic.NewTracker(0), nil, zap.NewNop(), HandlerOptions{}), store
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHandler_GetWeather_Success(t *testing.T) {
	svc := &mockWeatherService{record: seattleRecord()}
	h, _ := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/weather?city=%20Seattle%20&country=United%20States", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	h.GetWeather(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	want := `{"location":{"city":"Seattle","country":"United States"},"temperature":12,"feels_like":10.5,"condition":"Cloudy","humidity":80,"wind_speed":15}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s\nwant  %s", got, want)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	got := svc.lastRequest(t)
	if got.ClientID != "203.0.113.7" {
		t.Errorf("ClientID = %q, want 203.0.113.7", got.ClientID)
	}
	if got.SessionID == "" {
		t.Error("SessionID empty; a session should be issued")
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != got.SessionID || !cookie.HttpOnly {
		t.Errorf("session cookie = %+v, want HttpOnly cookie with %q", cookie, got.SessionID)
	}
}

func TestHandler_GetWeather_ReusesSessionCookie(t *testing.T) {
	svc := &mockWeatherService{record: seattleRecord()}
	h, _ := newTestHandler(t, svc)
	const sid = "0b6c7f0e-4d5a-4c9b-8a53-2f7c3b1e9d10"

	req := httptest.NewRequest(http.MethodGet, "/api/weather?city=Paris&country=France", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sid})
	w := httptest.NewRecorder()
	h.GetWeather(w, req)

	if got := svc.lastRequest(t).SessionID; got != sid {
		t.Errorf("SessionID = %q, want %q", got, sid)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no new cookie should be set when a valid session exists")
	}
}

func TestHandler_GetWeather_Validation(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{"missing both", "", "Both 'city' and 'country' parameters are required"},
		{"missing country", "city=Seattle", "Both 'city' and 'country' parameters are required"},
		{"whitespace city", "city=%20%20&country=France", "city cannot be empty or only whitespace"},
		{"sql injection", "city=Seattle%27%3B%20DROP%20TABLE&country=US", "city contains invalid characters"},
		{"digits", "city=Paris&country=France1", "country contains invalid characters"},
		{"too long", "city=" + strings.Repeat("a", 101) + "&country=France", "city exceeds maximum length of 100 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWeatherService{}
			h, _ := newTestHandler(t, svc)
			w := httptest.NewRecorder()
			h.GetWeather(w, httptest.NewRequest(http.MethodGet, "/api/weather?"+tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			body := decodeError(t, w)
			if body.Error != KindValidation || body.Message != tt.wantMsg {
				t.Errorf("body = %+v, want %s %q", body, KindValidation, tt.wantMsg)
			}
			if svc.calls() != 0 {
				t.Error("service must not be called on validation failure")
			}
		})
	}
}

func TestHandler_PostWeather(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"ok", `{"city":"Paris","country":"France"}`, http.StatusOK, ""},
		{"missing field", `{"city":"Paris"}`, http.StatusBadRequest, "Both 'city' and 'country' fields are required"},
		{"not json", `city=Paris`, http.StatusBadRequest, "Request body must be valid JSON"},
		{"empty body", ``, http.StatusBadRequest, "Request body must be a JSON object"},
		{"array body", `[1,2]`, http.StatusBadRequest, "Request body must be a JSON object"},
		{"number field", `{"city":42,"country":"France"}`, http.StatusBadRequest, "city must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWeatherService{record: seattleRecord()}
			h, _ := newTestHandler(t, svc)
			req := httptest.NewRequest(http.MethodPost, "/api/weather", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.PostWeather(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantMsg != "" {
				if body := decodeError(t, w); body.Message != tt.wantMsg {
					t.Errorf("message = %q, want %q", body.Message, tt.wantMsg)
				}
			}
		})
	}
}

func TestHandler_GetWeatherByCoordinates(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		svc := &mockWeatherService{record: seattleRecord()}
		h, _ := newTestHandler(t, svc)
		w := httptest.NewRecorder()
		h.GetWeatherByCoordinates(w, httptest.NewRequest(http.MethodGet, "/api/weather/coordinates?lat=47.6062&lon=-122.3321", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
		}
		var body weatherResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Location.City != "Seattle" || body.Location.Latitude == nil || *body.Location.Latitude != 47.6062 {
			t.Errorf("location = %+v", body.Location)
		}
		if loc := svc.lastRequest(t).Location; !loc.IsCoordinates() || *loc.Longitude != -122.3321 {
			t.Errorf("request location = %+v", loc)
		}
	})

	tests := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{"missing lon", "lat=47.6", "Both 'lat' and 'lon' parameters are required"},
		{"lat out of range", "lat=91&lon=0", "latitude must be between -90 and 90"},
		{"lon out of range", "lat=0&lon=-180.5", "longitude must be between -180 and 180"},
		{"not a number", "lat=abc&lon=0", "latitude must be between -90 and 90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &mockWeatherService{})
			w := httptest.NewRecorder()
			h.GetWeatherByCoordinates(w, httptest.NewRequest(http.MethodGet, "/api/weather/coordinates?"+tt.query, nil))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if body := decodeError(t, w); body.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMsg)
			}
		})
	}
}

func TestHandler_GetWeather_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"rate limited", &service.RateLimitError{Scope: ratelimit.ScopeClient, RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, KindRateLimit},
		{"not found", fmt.Errorf("resolve: %w", service.ErrLocationNotFound), http.StatusNotFound, KindLocationNotFound},
		{"parse", fmt.Errorf("parse weather: %w", &extract.ParseError{Err: extract.ErrMarkerNotFound}), http.StatusBadGateway, KindParse},
		{"upstream 503", &client.FetchError{Kind: client.KindServerError, StatusCode: 503, Attempts: 3}, http.StatusBadGateway, KindFetch},
		{"upstream 404", &client.FetchError{Kind: client.KindClientError, StatusCode: 404, Attempts: 1}, http.StatusBadGateway, KindFetch},
		{"upstream timeout", &client.FetchError{Kind: client.KindTimeout, Attempts: 3}, http.StatusGatewayTimeout, KindFetch},
		{"circuit open", &client.FetchError{Kind: client.KindServerError, Err: client.ErrCircuitOpen}, http.StatusBadGateway, KindFetch},
		{"geocoding", fmt.Errorf("%w: %w", service.ErrGeocoding, errors.New("dial tcp")), http.StatusBadGateway, KindFetch},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, KindFetch},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &mockWeatherService{err: tt.err})
			w := httptest.NewRecorder()
			h.GetWeather(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle&country=US", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Error != tt.wantKind {
				t.Errorf("kind = %q, want %q", body.Error, tt.wantKind)
			}
			if body.Message == "" || strings.Contains(body.Message, "boom") || strings.Contains(body.Message, "dial tcp") {
				t.Errorf("message %q leaks internals or is empty", body.Message)
			}
		})
	}
}

func TestHandler_RateLimited_SetsRetryAfter(t *testing.T) {
	err := &service.RateLimitError{Scope: ratelimit.ScopeGlobal, RetryAfter: 41200 * time.Millisecond}
	h, _ := newTestHandler(t, &mockWeatherService{err: err})
	w := httptest.NewRecorder()
	h.GetWeather(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle&country=US", nil))

	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want 42", got)
	}
}

func TestHandler_ClientID_ForwardedFor(t *testing.T) {
	tests := []struct {
		name  string
		trust bool
		want  string
	}{
		{"trusted", true, "198.51.100.1"},
		{"untrusted", false, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWeatherService{record: seattleRecord()}
			h := NewHandler(svc, nil, nil, nil, nil, HandlerOptions{TrustForwardedFor: tt.trust})
			req := httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle&country=US", nil)
			req.RemoteAddr = "10.0.0.2:1234"
			req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
			h.GetWeather(httptest.NewRecorder(), req)
			if got := svc.lastRequest(t).ClientID; got != tt.want {
				t.Errorf("ClientID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandler_RecentSearches(t *testing.T) {
	h, store := newTestHandler(t, &mockWeatherService{})
	const sid = "0b6c7f0e-4d5a-4c9b-8a53-2f7c3b1e9d10"
	store.Add(sid, models.NewCityLocation("Paris", "France"))
	store.Add(sid, models.NewCityLocation("Seattle", "United States"))

	req := httptest.NewRequest(http.MethodGet, "/api/recent-searches", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sid})
	w := httptest.NewRecorder()
	h.GetRecentSearches(w, req)

	var body recentSearchesResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.RecentSearches) != 2 || body.RecentSearches[0].Location.City != "Seattle" {
		t.Fatalf("recent_searches = %+v, want Seattle first", body.RecentSearches)
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/recent-searches", nil)
	del.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sid})
	w = httptest.NewRecorder()
	h.DeleteRecentSearches(w, del)
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Recent searches cleared"}` {
		t.Errorf("delete body = %s", got)
	}
	if n := len(store.List(sid)); n != 0 {
		t.Errorf("List after clear = %d entries, want 0", n)
	}
}

func TestHandler_RecentSearches_NoSession(t *testing.T) {
	h, _ := newTestHandler(t, &mockWeatherService{})
	w := httptest.NewRecorder()
	h.GetRecentSearches(w, httptest.NewRequest(http.MethodGet, "/api/recent-searches", nil))

	if got := strings.TrimSpace(w.Body.String()); got != `{"recent_searches":[]}` {
		t.Errorf("body = %s, want empty list", got)
	}
}

func TestHandler_RecordsOutcomes(t *testing.T) {
	tracker := traffic.NewTracker(0)
	svc := &mockWeatherService{}
	h := NewHandler(svc, nil, tracker, nil, nil, HandlerOptions{})
	get := func() {
		h.GetWeather(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle&country=US", nil))
	}

	get()
	svc.err = &client.FetchError{Kind: client.KindServerError}
	get()
	svc.err = &service.RateLimitError{RetryAfter: time.Second}
	get()
	svc.err = service.ErrLocationNotFound
	get()

	failures, total := tracker.ErrorRate(time.Minute)
	if failures != 1 || total != 2 {
		t.Errorf("ErrorRate = (%d, %d), want (1, 2)", failures, total)
	}
	if d := tracker.DenialCount(time.Minute); d != 1 {
		t.Errorf("DenialCount = %d, want 1", d)
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *HealthConfig
		seed       func(*traffic.Tracker)
		wantStatus int
		wantHealth string
	}{
		{"no config", nil, nil, http.StatusOK, "healthy"},
		{"breaker open", &HealthConfig{UpstreamOpen: func() bool { return true }}, nil, http.StatusServiceUnavailable, "degraded"},
		{"cache down", &HealthConfig{CachePing: func() error { return errors.New("refused") }}, nil, http.StatusServiceUnavailable, "degraded"},
		{
			"error rate breach",
			&HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			func(tr *traffic.Tracker) {
				tr.Record(traffic.Success)
				tr.Record(traffic.Failure)
			},
			http.StatusServiceUnavailable, "degraded",
		},
		{
			"below error threshold",
			&HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			func(tr *traffic.Tracker) {
				tr.Record(traffic.Success)
				tr.Record(traffic.Success)
				tr.Record(traffic.Failure)
			},
			http.StatusOK, "healthy",
		},
		{
			"overloaded",
			&HealthConfig{OverloadWindow: time.Minute, OverloadDenials: 2},
			func(tr *traffic.Tracker) {
				tr.Record(traffic.Denied)
				tr.Record(traffic.Denied)
			},
			http.StatusServiceUnavailable, "overloaded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := traffic.NewTracker(0)
			if tt.seed != nil {
				tt.seed(tracker)
			}
			h := NewHandler(&mockWeatherService{}, nil, tracker, tt.cfg, nil, HandlerOptions{})
			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]interface{}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.wantHealth {
				t.Errorf("health = %v, want %s", body["status"], tt.wantHealth)
			}
		})
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	lifecycle.BeginShutdown("test")
	defer lifecycle.Reset()

	h, _ := newTestHandler(t, &mockWeatherService{})
	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"shutting-down"`) {
		t.Errorf("body = %s, want shutting-down", w.Body.String())
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	open := false
	cfg := &HealthConfig{UpstreamOpen: func() bool { return open }}
	h := NewHandler(&mockWeatherService{}, nil, nil, cfg, zap.New(core), HandlerOptions{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.GetHealth(httptest.NewRecorder(), req)
	if logs.Len() != 0 {
		t.Fatalf("first call logged %d entries, want 0", logs.Len())
	}

	open = true
	h.GetHealth(httptest.NewRecorder(), req)
	h.GetHealth(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "circuit_open" {
		t.Errorf("fields = %v", fields)
	}
}

func TestHandler_GetLiveness(t *testing.T) {
	lifecycle.BeginShutdown("test")
	defer lifecycle.Reset()

	h, _ := newTestHandler(t, &mockWeatherService{})
	w := httptest.NewRecorder()
	h.GetLiveness(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even while draining", w.Code)
	}
}
