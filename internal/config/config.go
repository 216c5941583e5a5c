package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

// Config holds service configuration loaded from .env, YAML and environment.
type Config struct {
	ServerPort string
	LogLevel   string
	Version    string

	// Upstream page fetching.
	SourceURL         string
	FetchTimeout      time.Duration
	FetchMaxBodyBytes int64
	UserAgent         string
	UpstreamRPS       float64
	UpstreamBurst     int
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RetryJitter       float64

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	RequestTimeout  time.Duration
	CoalesceTimeout time.Duration

	CacheBackend    string // "in_memory" or "memcached"
	CacheBucket     time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ClientRateLimit  int
	ClientRateWindow time.Duration
	GlobalRateLimit  int
	GlobalRateWindow time.Duration
	LimiterSweep     time.Duration

	RecentSearchLimit int
	MaxSessions       int
	SecureCookies     bool
	TrustForwardedFor bool
	CORSOrigins       []string

	GoogleGeocodingAPIKey string
	NominatimURL          string

	WarmLocations   []string
	WarmInterval    time.Duration
	WarmConcurrency int

	DegradedWindow   time.Duration
	DegradedErrorPct int
	OverloadWindow   time.Duration
	OverloadDenials  int

	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration
	ShutdownCheckInterval   time.Duration
}

type fileConfig struct {
	Server struct {
		Port              string   `yaml:"port"`
		LogLevel          string   `yaml:"log_level"`
		RequestTimeout    string   `yaml:"request_timeout"`
		TrustForwardedFor bool     `yaml:"trust_forwarded_for"`
		SecureCookies     bool     `yaml:"secure_cookies"`
		CORSOrigins       []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Source struct {
		URL          string  `yaml:"url"`
		Timeout      string  `yaml:"timeout"`
		MaxBodyBytes int64   `yaml:"max_body_bytes"`
		UserAgent    string  `yaml:"user_agent"`
		RPS          float64 `yaml:"rps"`
		Burst        int     `yaml:"burst"`
	} `yaml:"source"`

	Reliability struct {
		RetryMaxAttempts       int     `yaml:"retry_max_attempts"`
		RetryBaseDelay         string  `yaml:"retry_base_delay"`
		RetryJitter            float64 `yaml:"retry_jitter"`
		CircuitBreakerEnabled  *bool   `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailures int     `yaml:"circuit_breaker_failures"`
		CircuitBreakerOpenTime string  `yaml:"circuit_breaker_open_timeout"`
		CoalesceTimeout        string  `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	Cache struct {
		Backend    string `yaml:"backend"`
		Bucket     string `yaml:"bucket"`
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Locations   []string `yaml:"locations"`
			Interval    string   `yaml:"interval"`
			Concurrency int      `yaml:"concurrency"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	RateLimit struct {
		ClientLimit  *int   `yaml:"client_limit"`
		ClientWindow string `yaml:"client_window"`
		GlobalLimit  *int   `yaml:"global_limit"`
		GlobalWindow string `yaml:"global_window"`
		Sweep        string `yaml:"sweep_interval"`
	} `yaml:"rate_limit"`

	History struct {
		Limit       int `yaml:"limit"`
		MaxSessions int `yaml:"max_sessions"`
	} `yaml:"history"`

	Geocoding struct {
		NominatimURL string `yaml:"nominatim_url"`
	} `yaml:"geocoding"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		OverloadWindow   string `yaml:"overload_window"`
		OverloadDenials  int    `yaml:"overload_denials"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout          string `yaml:"timeout"`
		InFlightTimeout  string `yaml:"in_flight_timeout"`
		InFlightInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

// Load reads an optional .env, then config/{ENV_NAME}.yaml (default dev), then applies
// environment overrides. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	// Existing environment variables win over .env entries.
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromFile fills a Config from the parsed YAML, substituting defaults for missing values.
func fromFile(fc *fileConfig) *Config {
	cfg := &Config{
		ServerPort:        orDefault(fc.Server.Port, "8080"),
		LogLevel:          orDefault(fc.Server.LogLevel, "INFO"),
		RequestTimeout:    parseDuration(fc.Server.RequestTimeout, 30*time.Second),
		TrustForwardedFor: fc.Server.TrustForwardedFor,
		SecureCookies:     fc.Server.SecureCookies,
		CORSOrigins:       fc.Server.CORSOrigins,

		SourceURL:         orDefault(fc.Source.URL, "https://www.msn.com/en-us/weather/forecast/in-"),
		FetchTimeout:      parseDuration(fc.Source.Timeout, 15*time.Second),
		FetchMaxBodyBytes: fc.Source.MaxBodyBytes,
		UserAgent:         fc.Source.UserAgent,
		UpstreamRPS:       fc.Source.RPS,
		UpstreamBurst:     positiveOr(fc.Source.Burst, 1),

		RetryAttempts:           positiveOr(fc.Reliability.RetryMaxAttempts, 3),
		RetryBaseDelay:          parseDuration(fc.Reliability.RetryBaseDelay, time.Second),
		RetryJitter:             fc.Reliability.RetryJitter,
		BreakerEnabled:          true,
		BreakerFailureThreshold: positiveOr(fc.Reliability.CircuitBreakerFailures, 5),
		BreakerOpenTimeout:      parseDuration(fc.Reliability.CircuitBreakerOpenTime, 30*time.Second),
		CoalesceTimeout:         parseDurationOrZero(fc.Reliability.CoalesceTimeout, 60*time.Second),

		CacheBackend:          strings.TrimSpace(strings.ToLower(fc.Cache.Backend)),
		CacheBucket:           parseDuration(fc.Cache.Bucket, 5*time.Minute),
		CacheTTL:              parseDurationOrZero(fc.Cache.TTL, 0),
		CacheMaxEntries:       positiveOr(fc.Cache.MaxEntries, 1000),
		MemcachedAddrs:        strings.TrimSpace(fc.Cache.Memcached.Addrs),
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: positiveOr(fc.Cache.Memcached.MaxIdleConns, 2),
		WarmLocations:         fc.Cache.Warm.Locations,
		WarmInterval:          parseDurationOrZero(fc.Cache.Warm.Interval, 0),
		WarmConcurrency:       positiveOr(fc.Cache.Warm.Concurrency, 4),

		ClientRateLimit:  intPtrOr(fc.RateLimit.ClientLimit, 30),
		ClientRateWindow: parseDuration(fc.RateLimit.ClientWindow, 60*time.Second),
		GlobalRateLimit:  intPtrOr(fc.RateLimit.GlobalLimit, 200),
		GlobalRateWindow: parseDuration(fc.RateLimit.GlobalWindow, time.Hour),
		LimiterSweep:     parseDuration(fc.RateLimit.Sweep, time.Minute),

		RecentSearchLimit: positiveOr(fc.History.Limit, 10),
		MaxSessions:       positiveOr(fc.History.MaxSessions, 10000),

		NominatimURL: strings.TrimSpace(fc.Geocoding.NominatimURL),

		DegradedWindow:   parseDuration(fc.Health.DegradedWindow, time.Minute),
		DegradedErrorPct: positiveOr(fc.Health.DegradedErrorPct, 50),
		OverloadWindow:   parseDuration(fc.Health.OverloadWindow, time.Minute),
		OverloadDenials:  fc.Health.OverloadDenials,

		ShutdownTimeout:         parseDuration(fc.Shutdown.Timeout, 30*time.Second),
		ShutdownInFlightTimeout: parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second),
		ShutdownCheckInterval:   parseDuration(fc.Shutdown.InFlightInterval, 100*time.Millisecond),
	}
	if fc.Reliability.CircuitBreakerEnabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.CircuitBreakerEnabled
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cfg.CacheBucket
	}
	return cfg
}

// applyEnv overrides file values with environment variables when set.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_GEOCODING_API_KEY")); v != "" {
		cfg.GoogleGeocodingAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SOURCE_URL")); v != "" {
		cfg.SourceURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v, err := strconv.ParseBool(os.Getenv("TRUST_FORWARDED_FOR")); err == nil {
		cfg.TrustForwardedFor = v
	}
	cfg.Version = orDefault(os.Getenv("SERVICE_VERSION"), "dev")
}

// validate performs post-load checks. RequestTimeout is raised to cover one full retry
// sequence when configured too low.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.ClientRateLimit < 0 || cfg.GlobalRateLimit < 0 {
		return fmt.Errorf("rate_limit limits must be >= 0 (0 disables)")
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter > 1 {
		return fmt.Errorf("reliability.retry_jitter must be within [0, 1], got %v", cfg.RetryJitter)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be <= 100, got %d", cfg.DegradedErrorPct)
	}
	if cfg.UpstreamRPS < 0 {
		return fmt.Errorf("source.rps must be >= 0, got %v", cfg.UpstreamRPS)
	}
	if cfg.RequestTimeout <= cfg.FetchTimeout {
		cfg.RequestTimeout = cfg.FetchTimeout + time.Second
	}
	return nil
}

// WarmTargets parses WarmLocations ("City,Country") into locations. Entries without a
// country are skipped. The last comma separates the country so city names may contain commas.
func (c *Config) WarmTargets() []models.Location {
	var out []models.Location
	for _, raw := range c.WarmLocations {
		i := strings.LastIndex(raw, ",")
		if i <= 0 {
			continue
		}
		city, country := strings.TrimSpace(raw[:i]), strings.TrimSpace(raw[i+1:])
		if city == "" || country == "" {
			continue
		}
		out = append(out, models.NewCityLocation(city, country))
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// intPtrOr distinguishes an explicit 0 (disable) from an absent key.
func intPtrOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
