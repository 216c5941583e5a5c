package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/lifecycle"
)

// HealthConfig holds thresholds and probes for the health handlers.
type HealthConfig struct {
	Version string
	// DegradedWindow and DegradedErrorPct: degraded when failures/(successes+failures)
	// reach the percentage within the window. Zero disables the check.
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// OverloadWindow and OverloadDenials: overloaded when rate-limit denials within the
	// window reach the count. Zero disables the check.
	OverloadWindow  time.Duration
	OverloadDenials int
	// UpstreamOpen reports whether the upstream circuit breaker is open.
	UpstreamOpen func() bool
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// dependencyChecks probes the upstream breaker and cache once per health request.
func (h *Handler) dependencyChecks() map[string]string {
	checks := map[string]string{"upstream": "healthy"}
	if h.health == nil {
		return checks
	}
	if h.health.UpstreamOpen != nil && h.health.UpstreamOpen() {
		checks["upstream"] = "unhealthy"
	}
	if h.health.CachePing != nil {
		checks["cache"] = "healthy"
		if err := h.health.CachePing(); err != nil {
			checks["cache"] = "unhealthy"
		}
	}
	return checks
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded (breaker open, cache down, error rate) > overloaded > healthy.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if why, _ := lifecycle.ShutdownReason(); why != "" {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, why}
	}
	cfg := h.health
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if checks["upstream"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if checks["cache"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable"}
	}
	if h.outcomes != nil && cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		failures, total := h.outcomes.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(failures)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	if h.outcomes != nil && cfg.OverloadWindow > 0 && cfg.OverloadDenials > 0 {
		if h.outcomes.DenialCount(cfg.OverloadWindow) >= cfg.OverloadDenials {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "rate_limit_denials"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// GetHealth handles GET /health and GET /api/v1/health/ready.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.dependencyChecks()
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.health != nil && h.health.Version != "" {
		version = h.health.Version
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "msn-weather-service",
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// GetLiveness handles GET /api/v1/health/live. It only reports that the process serves HTTP.
func (h *Handler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "service": "msn-weather-service"})
}
