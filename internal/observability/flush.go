package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// summaryCounters are reported in the final shutdown log line.
var summaryCounters = []string{
	"weatherQueriesTotal",
	"cacheHitsTotal",
	"cacheMissesTotal",
	"coalescedRequestsTotal",
	"rateLimitDeniedTotal",
	"parseFailuresTotal",
}

// CounterTotals sums every series of the named counters in the private registry.
// Unknown names are omitted.
func CounterTotals(names ...string) (map[string]float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make(map[string]float64, len(names))
	for _, mf := range families {
		if !want[mf.GetName()] {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		out[mf.GetName()] = sum
	}
	return out, nil
}

// FlushTelemetry logs a lifetime summary and flushes the logger before process exit.
// Prometheus is pull-based, so there is nothing to push.
func FlushTelemetry(_ context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if totals, err := CounterTotals(summaryCounters...); err == nil {
		fields := make([]zap.Field, 0, len(totals))
		for _, name := range summaryCounters {
			if v, ok := totals[name]; ok {
				fields = append(fields, zap.Float64(name, v))
			}
		}
		logger.Info("lifetime totals", fields...)
	}
	if err := logger.Sync(); err != nil {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}
