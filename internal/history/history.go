// Package history keeps each browser session's recent weather searches in memory.
package history

import (
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

const (
	DefaultLimit       = 10
	DefaultMaxSessions = 10000
)

// Store holds up to limit searches per session, newest first. Repeating a search moves it
// to the front. The least recently used session is dropped once maxSessions is reached.
type Store struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, []models.RecentSearch]
	limit    int
	now      func() time.Time
}

// New creates a Store. Non-positive arguments use the defaults.
func New(maxSessions, limit int) (*Store, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	sessions, err := lru.New[string, []models.RecentSearch](maxSessions)
	if err != nil {
		return nil, err
	}
	return &Store{sessions: sessions, limit: limit, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Add records a search for the session.
func (s *Store) Add(sessionID string, loc models.Location) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, _ := s.sessions.Get(sessionID)
	next := make([]models.RecentSearch, 0, s.limit)
	next = append(next, models.RecentSearch{Location: loc, SearchedAt: s.now().UTC()})
	for _, r := range prev {
		if len(next) == s.limit {
			break
		}
		if !sameLocation(r.Location, loc) {
			next = append(next, r)
		}
	}
	s.sessions.Add(sessionID, next)
}

// List returns a copy of the session's searches, newest first. Never nil.
func (s *Store) List(sessionID string) []models.RecentSearch {
	s.mu.Lock()
	defer s.mu.Unlock()
	searches, _ := s.sessions.Get(sessionID)
	out := make([]models.RecentSearch, len(searches))
	copy(out, searches)
	return out
}

// Clear removes all searches for the session.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(sessionID)
}

// Sessions returns the number of sessions with history.
func (s *Store) Sessions() int {
	return s.sessions.Len()
}

func sameLocation(a, b models.Location) bool {
	if a.IsCoordinates() != b.IsCoordinates() {
		return false
	}
	if a.IsCoordinates() {
		return round4(*a.Latitude) == round4(*b.Latitude) && round4(*a.Longitude) == round4(*b.Longitude)
	}
	return strings.EqualFold(strings.TrimSpace(a.City), strings.TrimSpace(b.City)) &&
		strings.EqualFold(strings.TrimSpace(a.Country), strings.TrimSpace(b.Country))
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
