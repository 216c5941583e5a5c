// Package lifecycle holds process-wide drain state shared by main and the health handler.
package lifecycle

import (
	"sync"
	"time"
)

var (
	mu        sync.RWMutex
	draining  bool
	reason    string
	startedAt time.Time
)

// BeginShutdown marks the process as draining. The first reason wins.
func BeginShutdown(why string) {
	mu.Lock()
	defer mu.Unlock()
	if draining {
		return
	}
	draining = true
	reason = why
	startedAt = time.Now()
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	mu.RLock()
	defer mu.RUnlock()
	return draining
}

// ShutdownReason returns the reason passed to BeginShutdown and how long ago draining began.
// Both are zero when not draining.
func ShutdownReason() (string, time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if !draining {
		return "", 0
	}
	return reason, time.Since(startedAt)
}

// Reset clears drain state. Used by tests.
func Reset() {
	mu.Lock()
	draining, reason, startedAt = false, "", time.Time{}
	mu.Unlock()
}
