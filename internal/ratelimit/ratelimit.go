// Package ratelimit implements the per-client and global fixed-window request limits.
package ratelimit

import (
	"sync"
	"time"
)

// Scope names the window that denied a request.
type Scope string

const (
	ScopeClient Scope = "client"
	ScopeGlobal Scope = "global"
)

// Config sets the two windows. A non-positive limit disables that scope.
type Config struct {
	ClientLimit  int
	ClientWindow time.Duration
	GlobalLimit  int
	GlobalWindow time.Duration
}

// DefaultConfig allows 30 requests per client per minute and 200 in total per hour.
func DefaultConfig() Config {
	return Config{
		ClientLimit:  30,
		ClientWindow: time.Minute,
		GlobalLimit:  200,
		GlobalWindow: time.Hour,
	}
}

// Decision is the outcome of Allow. Scope and RetryAfter are set only when denied.
type Decision struct {
	Allowed    bool
	Scope      Scope
	RetryAfter time.Duration
}

type counter struct {
	index int64 // window number, floor(now / window)
	count int
}

// Limiter counts allowed requests in epoch-aligned fixed windows.
// Denied requests are not counted. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string]*counter
	global  counter
	now     func() time.Time
}

// New creates a Limiter. Zero windows default to DefaultConfig's.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.ClientWindow <= 0 {
		cfg.ClientWindow = def.ClientWindow
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = def.GlobalWindow
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*counter),
		global:  counter{index: -1},
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Allow checks the client window, then the global window. When both have room it
// counts the request in both under one lock.
func (l *Limiter) Allow(clientID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	ci := windowIndex(now, l.cfg.ClientWindow)
	c := l.clients[clientID]
	if c != nil && c.index != ci {
		c.index, c.count = ci, 0
	}
	if l.cfg.ClientLimit > 0 && c != nil && c.count >= l.cfg.ClientLimit {
		return Decision{Scope: ScopeClient, RetryAfter: untilNext(now, ci, l.cfg.ClientWindow)}
	}

	gi := windowIndex(now, l.cfg.GlobalWindow)
	if l.global.index != gi {
		l.global.index, l.global.count = gi, 0
	}
	if l.cfg.GlobalLimit > 0 && l.global.count >= l.cfg.GlobalLimit {
		return Decision{Scope: ScopeGlobal, RetryAfter: untilNext(now, gi, l.cfg.GlobalWindow)}
	}

	if c == nil {
		c = &counter{index: ci}
		l.clients[clientID] = c
	}
	c.count++
	l.global.count++
	return Decision{Allowed: true}
}

// Sweep drops client counters whose window has ended and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	ci := windowIndex(l.now(), l.cfg.ClientWindow)
	removed := 0
	for id, c := range l.clients {
		if c.index < ci {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// TrackedClients returns the number of client counters held.
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func windowIndex(now time.Time, window time.Duration) int64 {
	return now.UnixNano() / int64(window)
}

func untilNext(now time.Time, index int64, window time.Duration) time.Duration {
	end := time.Unix(0, (index+1)*int64(window))
	return end.Sub(now)
}
