package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/observability"
)

// requestCoalescer collapses concurrent loads of one cache key into a single call.
// The shared call runs on a context detached from the first caller's cancellation and bounded
// by timeout, so one impatient client cannot fail everyone waiting on the same key.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn once per key among concurrent callers. Each caller still returns early if its own ctx ends.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.WeatherRecord, error)) (models.WeatherRecord, error) {
	ch := rc.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case <-ctx.Done():
		return models.WeatherRecord{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			observability.CoalescedRequestsTotal.Inc()
		}
		if res.Err != nil {
			return models.WeatherRecord{}, res.Err
		}
		return res.Val.(models.WeatherRecord), nil
	}
}
