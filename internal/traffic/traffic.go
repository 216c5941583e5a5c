// Package traffic records recent request outcomes for the health endpoint.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished weather lookup.
type Outcome int

const (
	Success Outcome = iota
	Failure         // upstream, parse or geocoding failure
	Denied          // rate limited
)

// DefaultRetention bounds how far back a window query can look.
const DefaultRetention = 5 * time.Minute

// Tracker keeps timestamped outcomes for sliding-window queries. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	times     [3][]time.Time // indexed by Outcome
}

// NewTracker returns a Tracker that retains outcomes for retention (DefaultRetention if <= 0).
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Record stores an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	if o < Success || o > Denied {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// ErrorRate returns (failures, successes+failures) within window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failures = countSince(t.times[Failure], cutoff)
	return failures, failures + countSince(t.times[Success], cutoff)
}

// DenialCount returns the number of rate-limit denials within window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[Denied], t.now().Add(-window))
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops entries older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for i, times := range t.times {
		j := 0
		for ; j < len(times) && times[j].Before(cutoff); j++ {
		}
		if j > 0 {
			t.times[i] = append(times[:0], times[j:]...)
		}
	}
}
