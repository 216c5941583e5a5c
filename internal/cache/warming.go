package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/observability"
)

// Prefetcher is implemented by the service layer. It loads a location into the cache
// without counting against client rate limits. Declared here to avoid an import cycle.
type Prefetcher interface {
	Prefetch(ctx context.Context, loc models.Location) error
}

// CacheWarmer keeps a fixed list of popular locations hot.
type CacheWarmer struct {
	prefetcher  Prefetcher
	logger      *zap.Logger
	concurrency int
}

// NewCacheWarmer creates a CacheWarmer. At most concurrency locations are fetched at once (min 1).
func NewCacheWarmer(p Prefetcher, logger *zap.Logger, concurrency int) *CacheWarmer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &CacheWarmer{prefetcher: p, logger: logger, concurrency: concurrency}
}

// Warm prefetches every location and returns the joined per-location errors.
func (w *CacheWarmer) Warm(ctx context.Context, locations []models.Location) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("locations", len(locations)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, w.concurrency)
	)
	for _, loc := range locations {
		wg.Add(1)
		sem <- struct{}{}
		go func(loc models.Location) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.prefetcher.Prefetch(ctx, loc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", loc, err))
				mu.Unlock()
			}
		}(loc)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("locations", len(locations)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration),
		)
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}
