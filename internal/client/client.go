package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/msn-weather-service/internal/observability"
)

// Fetcher retrieves the raw body of an upstream page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

const (
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultMaxBodyBytes = 5 << 20
)

// Options configures an HTTPFetcher. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds each individual attempt, not the whole retry sequence.
	Timeout      time.Duration
	Retry        RetryPolicy
	MaxBodyBytes int64
	UserAgent    string
	// UpstreamRPS paces attempts across all callers; 0 disables pacing.
	UpstreamRPS   float64
	UpstreamBurst int
}

// HTTPFetcher issues GETs against the upstream page with retry, optional pacing and an
// optional circuit breaker around each logical fetch.
type HTTPFetcher struct {
	client       *http.Client
	timeout      time.Duration
	policy       RetryPolicy
	maxBodyBytes int64
	userAgent    string
	pacer        *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewHTTPFetcher returns an HTTPFetcher configured from opts.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy(time.Second)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	f := &HTTPFetcher{
		client:       &http.Client{Timeout: opts.Timeout},
		timeout:      opts.Timeout,
		policy:       opts.Retry,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    opts.UserAgent,
		sleep:        sleepContext,
	}
	if opts.UpstreamRPS > 0 {
		burst := opts.UpstreamBurst
		if burst <= 0 {
			burst = 1
		}
		f.pacer = rate.NewLimiter(rate.Limit(opts.UpstreamRPS), burst)
	}
	return f
}

// SetCircuitBreaker installs cb around each Fetch. Nil disables the breaker.
func (f *HTTPFetcher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	f.breaker = cb
}

// BreakerState returns the breaker state, or StateClosed when no breaker is installed.
func (f *HTTPFetcher) BreakerState() gobreaker.State {
	if f.breaker == nil {
		return gobreaker.StateClosed
	}
	return f.breaker.State()
}

// Fetch returns the body of url. Failures are always *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.breaker == nil {
		return f.fetchWithRetry(ctx, url)
	}
	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetchWithRetry(ctx, url)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &FetchError{Kind: KindServerError, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (f *HTTPFetcher) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	maxAttempts := f.policy.attempts()
	var lastErr *FetchError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			observability.UpstreamRetriesTotal.Inc()
			if err := f.sleep(ctx, f.policy.delay(attempt-1)); err != nil {
				lastErr.Attempts = attempt - 1
				return nil, lastErr
			}
		}

		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, nil
		}
		err.Attempts = attempt
		lastErr = err
		if ctx.Err() != nil || !f.policy.retryable(err) {
			return nil, err
		}
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Debug("upstream attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) attempt(ctx context.Context, url string) ([]byte, *FetchError) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: KindTimeout, Err: fmt.Errorf("upstream pacing: %w", err)}
		}
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindClientError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		observeUpstream("error", start)
		return nil, classifyTransportError(reqCtx, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observeUpstream(status, start)

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Kind: KindClientError, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Kind: KindServerError, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, classifyTransportError(reqCtx, fmt.Errorf("read response body: %w", err))
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &FetchError{Kind: KindServerError, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
	}
	return body, nil
}

// classifyTransportError separates timeouts from other network failures.
func classifyTransportError(ctx context.Context, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return &FetchError{Kind: KindNetworkError, Err: err}
}

func observeUpstream(status string, start time.Time) {
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
