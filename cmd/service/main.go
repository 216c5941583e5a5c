package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/cache"
	"github.com/kjstillabower/msn-weather-service/internal/client"
	"github.com/kjstillabower/msn-weather-service/internal/config"
	"github.com/kjstillabower/msn-weather-service/internal/geocode"
	"github.com/kjstillabower/msn-weather-service/internal/history"
	httphandler "github.com/kjstillabower/msn-weather-service/internal/http"
	"github.com/kjstillabower/msn-weather-service/internal/lifecycle"
	"github.com/kjstillabower/msn-weather-service/internal/observability"
	"github.com/kjstillabower/msn-weather-service/internal/ratelimit"
	"github.com/kjstillabower/msn-weather-service/internal/scheduler"
	"github.com/kjstillabower/msn-weather-service/internal/service"
	"github.com/kjstillabower/msn-weather-service/internal/traffic"
)

const breakerComponent = "msn_weather"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	fetcher := client.NewHTTPFetcher(client.Options{
		Timeout:       cfg.FetchTimeout,
		MaxBodyBytes:  cfg.FetchMaxBodyBytes,
		UserAgent:     cfg.UserAgent,
		UpstreamRPS:   cfg.UpstreamRPS,
		UpstreamBurst: cfg.UpstreamBurst,
		Retry: client.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     client.LinearBackoff(cfg.RetryBaseDelay, cfg.RetryJitter),
			Retryable:   client.IsRetryable,
		},
	})
	if cfg.BreakerEnabled {
		fetcher.SetCircuitBreaker(client.NewCircuitBreaker(client.BreakerConfig{
			Name:             breakerComponent,
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
			OpenTimeout:      cfg.BreakerOpenTimeout,
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), float64(to))
				logger.Warn("circuit breaker state change", zap.String("component", name), zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}))
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.BreakerOpenTimeout))
	}

	var weatherCache cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.CacheTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcached = mc
		weatherCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		mem, err := cache.NewInMemoryCache(cfg.CacheMaxEntries, cfg.CacheTTL)
		if err != nil {
			logger.Fatal("in-memory cache", zap.Error(err))
		}
		weatherCache = mem
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	limiter := ratelimit.New(ratelimit.Config{
		ClientLimit:  cfg.ClientRateLimit,
		ClientWindow: cfg.ClientRateWindow,
		GlobalLimit:  cfg.GlobalRateLimit,
		GlobalWindow: cfg.GlobalRateWindow,
	})
	observability.RegisterRateLimitGauges(limiter.TrackedClients)

	searches, err := history.New(cfg.MaxSessions, cfg.RecentSearchLimit)
	if err != nil {
		logger.Fatal("recent searches", zap.Error(err))
	}

	var geocoders geocode.Chain
	if cfg.GoogleGeocodingAPIKey != "" {
		geocoders = append(geocoders, geocode.NewGoogle(cfg.GoogleGeocodingAPIKey))
	}
	geocoders = append(geocoders, geocode.NewNominatim(cfg.NominatimURL, cfg.UserAgent, cfg.FetchTimeout))

	weatherService := service.NewWeatherService(fetcher, weatherCache, limiter, geocoders, searches, service.Options{
		Bucket:          cfg.CacheBucket,
		SourceURL:       cfg.SourceURL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
	})

	warmTargets := cfg.WarmTargets()
	tracked := make([]string, 0, len(warmTargets))
	for _, loc := range warmTargets {
		tracked = append(tracked, loc.String())
	}
	observability.SetTrackedLocations(tracked)

	healthConfig := &httphandler.HealthConfig{
		Version:          cfg.Version,
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		OverloadWindow:   cfg.OverloadWindow,
		OverloadDenials:  cfg.OverloadDenials,
		UpstreamOpen: func() bool {
			return fetcher.BreakerState() == gobreaker.StateOpen
		},
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(weatherService, searches, traffic.NewTracker(0), healthConfig, logger, httphandler.HandlerOptions{
		TrustForwardedFor: cfg.TrustForwardedFor,
		SecureCookies:     cfg.SecureCookies,
	})
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})

	jobs := scheduler.New(logger, 0)
	if err := jobs.Every("limiter_sweep", cfg.LimiterSweep, func(context.Context) error {
		if n := limiter.Sweep(); n > 0 {
			logger.Debug("rate limiter sweep", zap.Int("removed", n))
		}
		return nil
	}); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	if len(warmTargets) > 0 {
		warmer := cache.NewCacheWarmer(weatherService, logger, cfg.WarmConcurrency)
		warm := func(ctx context.Context) error { return warmer.Warm(ctx, warmTargets) }
		go func() {
			warmCtx, cancel := context.WithTimeout(context.Background(), scheduler.DefaultJobTimeout)
			defer cancel()
			if err := warm(warmCtx); err != nil {
				logger.Warn("initial cache warming failed", zap.Error(err))
			}
		}()
		if cfg.WarmInterval > 0 {
			if err := jobs.Every("cache_warming", cfg.WarmInterval, warm); err != nil {
				logger.Fatal("scheduler", zap.Error(err))
			}
		}
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.BeginShutdown("signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
