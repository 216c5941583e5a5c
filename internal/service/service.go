package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/cache"
	"github.com/kjstillabower/msn-weather-service/internal/client"
	"github.com/kjstillabower/msn-weather-service/internal/extract"
	"github.com/kjstillabower/msn-weather-service/internal/geocode"
	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/observability"
	"github.com/kjstillabower/msn-weather-service/internal/ratelimit"
)

// RateLimiter decides whether a client may perform a lookup.
type RateLimiter interface {
	Allow(clientID string) ratelimit.Decision
}

// SearchRecorder stores successful lookups per session.
type SearchRecorder interface {
	Add(sessionID string, loc models.Location)
}

// Request is one weather lookup. ClientID is the rate-limit identity; SessionID, if set,
// receives the location in its recent searches.
type Request struct {
	ClientID  string
	SessionID string
	Location  models.Location
}

// Options tune the orchestrator. Zero values take the defaults noted per field.
type Options struct {
	Bucket          time.Duration    // cache key bucket width, default 5m
	SourceURL       string           // page URL prefix, default client.DefaultSourceURL
	CoalesceTimeout time.Duration    // bound on a shared fetch, default 60s; negative disables coalescing
	Logger          *zap.Logger      // used when the request context carries none
	Clock           func() time.Time // default time.Now
}

// WeatherService runs a lookup through rate limiting, the cache and, on a miss,
// one coalesced fetch-and-parse whose result is cached.
type WeatherService struct {
	fetcher   client.Fetcher
	cache     cache.Cache
	limiter   RateLimiter
	geocoder  geocode.ReverseGeocoder
	searches  SearchRecorder
	coalescer *requestCoalescer
	bucket    time.Duration
	sourceURL string
	logger    *zap.Logger
	now       func() time.Time
}

// NewWeatherService wires the orchestrator. geocoder and searches may be nil; coordinate
// lookups then fail with ErrGeocoding and history is not recorded.
func NewWeatherService(fetcher client.Fetcher, c cache.Cache, limiter RateLimiter, geocoder geocode.ReverseGeocoder, searches SearchRecorder, opts Options) *WeatherService {
	if opts.Bucket <= 0 {
		opts.Bucket = 5 * time.Minute
	}
	if opts.SourceURL == "" {
		opts.SourceURL = client.DefaultSourceURL
	}
	if opts.CoalesceTimeout == 0 {
		opts.CoalesceTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	var coalescer *requestCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &WeatherService{
		fetcher:   fetcher,
		cache:     c,
		limiter:   limiter,
		geocoder:  geocoder,
		searches:  searches,
		coalescer: coalescer,
		bucket:    opts.Bucket,
		sourceURL: opts.SourceURL,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
}

func (s *WeatherService) log(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// GetWeather serves one lookup. Denials return *RateLimitError; fetch and parse failures
// wrap *client.FetchError and *extract.ParseError. Failures are never cached.
func (s *WeatherService) GetWeather(ctx context.Context, req Request) (models.WeatherRecord, error) {
	start := s.now()
	logger := s.log(ctx)

	if s.limiter != nil {
		if d := s.limiter.Allow(req.ClientID); !d.Allowed {
			observability.RateLimitDeniedTotal.WithLabelValues(string(d.Scope)).Inc()
			logger.Debug("rate limit denied", zap.String("scope", string(d.Scope)), zap.Duration("retry_after", d.RetryAfter))
			return models.WeatherRecord{}, &RateLimitError{Scope: d.Scope, RetryAfter: d.RetryAfter}
		}
	}
	observability.RecordWeatherQuery(req.Location.String())

	rec, cached, err := s.load(ctx, req.Location)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	rec.Location = echoLocation(req.Location, rec.Location)
	if s.searches != nil {
		s.searches.Add(req.SessionID, rec.Location)
	}
	logger.Debug("weather served",
		zap.Stringer("location", req.Location),
		zap.Bool("cached", cached),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return rec, nil
}

// Prefetch loads loc into the cache without rate limiting or history. Used by the cache warmer.
func (s *WeatherService) Prefetch(ctx context.Context, loc models.Location) error {
	_, _, err := s.load(ctx, loc)
	return err
}

// load returns the cached record for loc or fetches, stores and returns a fresh one.
func (s *WeatherService) load(ctx context.Context, loc models.Location) (models.WeatherRecord, bool, error) {
	key := cache.Key(loc, s.now(), s.bucket)

	if rec, ok := s.cacheGet(ctx, key); ok {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		return rec, true, nil
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()
	s.log(ctx).Debug("cache miss, fetching upstream", zap.Stringer("location", loc))

	fill := func(ctx context.Context) (models.WeatherRecord, error) {
		// A caller that missed just before the previous flight finished lands here after it stored.
		if rec, ok := s.cacheGet(ctx, key); ok {
			return rec, nil
		}
		rec, err := s.fetchRecord(ctx, loc)
		if err != nil {
			return models.WeatherRecord{}, err
		}
		if err := s.cache.Set(ctx, key, rec); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			s.log(ctx).Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return rec, nil
	}

	var (
		rec models.WeatherRecord
		err error
	)
	if s.coalescer != nil {
		rec, err = s.coalescer.Do(ctx, key, fill)
	} else {
		rec, err = fill(ctx)
	}
	return rec, false, err
}

// cacheGet treats backend errors as misses so a broken cache degrades to direct fetches.
func (s *WeatherService) cacheGet(ctx context.Context, key string) (models.WeatherRecord, bool) {
	rec, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.log(ctx).Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return models.WeatherRecord{}, false
	}
	return rec, ok
}

func (s *WeatherService) fetchRecord(ctx context.Context, loc models.Location) (models.WeatherRecord, error) {
	target := loc
	if loc.IsCoordinates() {
		resolved, err := s.resolve(ctx, loc)
		if err != nil {
			return models.WeatherRecord{}, err
		}
		target = resolved
	}

	body, err := s.fetcher.Fetch(ctx, client.SourceURL(s.sourceURL, target))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log(ctx).Warn("upstream fetch failed",
				zap.Stringer("location", target),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err),
			)
		}
		return models.WeatherRecord{}, fmt.Errorf("fetch weather for %s: %w", target, err)
	}
	obs, err := extract.Parse(body)
	if err != nil {
		reason := extract.ReasonLabel(err)
		observability.ParseFailuresTotal.WithLabelValues(reason).Inc()
		s.log(ctx).Warn("weather page not parseable",
			zap.Stringer("location", target),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return models.WeatherRecord{}, fmt.Errorf("parse weather for %s: %w", target, err)
	}

	observed := obs.ObservedAt
	if observed.IsZero() {
		observed = s.now().UTC()
	}
	return models.WeatherRecord{
		Location:    target,
		Temperature: obs.Temperature,
		FeelsLike:   obs.FeelsLike,
		Condition:   obs.Condition,
		Humidity:    obs.Humidity,
		WindSpeed:   obs.WindSpeed,
		ObservedAt:  observed,
	}, nil
}

// resolve annotates a coordinate location with the place the page is addressed by.
func (s *WeatherService) resolve(ctx context.Context, loc models.Location) (models.Location, error) {
	if s.geocoder == nil {
		return models.Location{}, fmt.Errorf("%w: no geocoder configured", ErrGeocoding)
	}
	place, err := s.geocoder.Reverse(ctx, *loc.Latitude, *loc.Longitude)
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		return models.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, loc)
	case err != nil:
		return models.Location{}, fmt.Errorf("%w: %w", ErrGeocoding, err)
	}
	return loc.WithPlace(place.City, place.Country), nil
}

// echoLocation returns the location as the caller asked for it. Cached records are shared
// across spellings of a name and nearby coordinates.
func echoLocation(requested, stored models.Location) models.Location {
	if requested.IsCoordinates() {
		return requested.WithPlace(stored.City, stored.Country)
	}
	return requested
}
