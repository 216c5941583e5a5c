package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

const (
	keyPrefix = "msnweather:"
	// memcached rejects keys longer than this.
	maxKeyLength = 250
	// Relative expirations above 30 days are read as unix timestamps by memcached.
	maxRelativeExp = 30 * 24 * 60 * 60
)

// MemcachedCache implements Cache on memcached. Expiry and eviction are delegated to the server.
type MemcachedCache struct {
	client *memcache.Client
	ttl    time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use client defaults if zero.
func NewMemcachedCache(addrs string, ttl, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses configured")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, ttl: ttl}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// itemKey prefixes k and hashes it when the result would exceed memcached's key limit.
func itemKey(k string) string {
	full := keyPrefix + k
	if len(full) <= maxKeyLength {
		return full
	}
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + "h:" + hex.EncodeToString(sum[:])
}

// expirationSeconds clamps ttl into memcached's relative expiration range.
func expirationSeconds(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec < 1 {
		return 1
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}

// Get implements Cache.Get. Returns false, nil on miss; false, err on backend or decode error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherRecord{}, false, err
	}
	item, err := c.client.Get(itemKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherRecord{}, false, nil
		}
		return models.WeatherRecord{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var rec models.WeatherRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return models.WeatherRecord{}, false, fmt.Errorf("memcached decode: %w", err)
	}
	return rec, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(&memcache.Item{
		Key:        itemKey(key),
		Value:      raw,
		Expiration: expirationSeconds(c.ttl),
	}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used by the readiness probe.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
