package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/observability"
)

const (
	DefaultMaxEntries = 1000
	DefaultTTL        = 5 * time.Minute
)

// Cache defines the interface for weather record caching implementations.
// Get returns the record if present and younger than the TTL; Set inserts or overwrites.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherRecord, bool, error)
	Set(ctx context.Context, key string, value models.WeatherRecord) error
}

// InMemoryCache is a bounded, TTL-checked cache safe for concurrent use.
// When full, the oldest inserted entry is evicted. Reads never change eviction order.
type InMemoryCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value     models.WeatherRecord
	createdAt time.Time
}

// NewInMemoryCache creates a cache holding at most maxEntries records for ttl each.
// Non-positive arguments fall back to DefaultMaxEntries and DefaultTTL.
func NewInMemoryCache(maxEntries int, ttl time.Duration) (*InMemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entries, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &InMemoryCache{entries: entries, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (c *InMemoryCache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns (record, true, nil) on hit and (zero, false, nil) on miss or expiry.
// Expired entries are dropped on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherRecord, bool, error) {
	// Peek, not Get: a lookup must not refresh the entry's position.
	entry, ok := c.entries.Peek(key)
	if !ok {
		return models.WeatherRecord{}, false, nil
	}
	if c.now().Sub(entry.createdAt) > c.ttl {
		c.removeIfUnchanged(key, entry)
		return models.WeatherRecord{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key, evicting the oldest inserted entry when the cache is full.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherRecord) error {
	// Overwrites go through Remove so they count as a fresh insertion.
	c.entries.Remove(key)
	if evicted := c.entries.Add(key, cacheEntry{value: value, createdAt: c.now()}); evicted {
		observability.CacheEvictionsTotal.Inc()
	}
	return nil
}

// Len returns the number of entries currently held, including expired ones not yet accessed.
func (c *InMemoryCache) Len() int {
	return c.entries.Len()
}

// removeIfUnchanged drops an expired entry unless a concurrent Set already replaced it.
func (c *InMemoryCache) removeIfUnchanged(key string, seen cacheEntry) {
	current, ok := c.entries.Peek(key)
	if ok && current.createdAt.Equal(seen.createdAt) {
		c.entries.Remove(key)
	}
}
