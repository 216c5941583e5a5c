package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, maxEntries int, ttl time.Duration) (*InMemoryCache, *fakeClock) {
	t.Helper()
	c, err := NewInMemoryCache(maxEntries, ttl)
	if err != nil {
		t.Fatalf("NewInMemoryCache() error = %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c.SetClock(clock.Now)
	return c, clock
}

func seattle() models.WeatherRecord {
	return models.WeatherRecord{
		Location:    models.NewCityLocation("Seattle", "USA"),
		Temperature: 12.0,
		FeelsLike:   10.5,
		Condition:   "Rain",
		Humidity:    80,
		WindSpeed:   20.0,
	}
}

func TestInMemoryCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v, err %v; want miss", ok, err)
	}
	if err := c.Set(ctx, "k", seattle()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want hit", ok, err)
	}
	if got != seattle() {
		t.Errorf("Get() = %+v, want %+v", got, seattle())
	}
}

func TestInMemoryCache_TTL(t *testing.T) {
	c, clock := newTestCache(t, 10, time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "k", seattle())

	clock.Advance(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry exactly at TTL should still be served")
	}
	clock.Advance(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry older than TTL should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed on access, Len() = %d", c.Len())
	}
}

func TestInMemoryCache_EvictsOldestInserted(t *testing.T) {
	const maxEntries = 3
	c, _ := newTestCache(t, maxEntries, time.Hour)
	ctx := context.Background()

	for i := 0; i < maxEntries; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), seattle())
	}
	// Reading k0 must not protect it from eviction.
	if _, ok, _ := c.Get(ctx, "k0"); !ok {
		t.Fatal("k0 should be present")
	}
	_ = c.Set(ctx, "k3", seattle())

	if c.Len() != maxEntries {
		t.Errorf("Len() = %d, want %d", c.Len(), maxEntries)
	}
	if _, ok, _ := c.Get(ctx, "k0"); ok {
		t.Error("k0 was the oldest insertion and should have been evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestInMemoryCache_OverwriteCountsAsNewInsertion(t *testing.T) {
	c, _ := newTestCache(t, 2, time.Hour)
	ctx := context.Background()
	_ = c.Set(ctx, "a", seattle())
	_ = c.Set(ctx, "b", seattle())
	_ = c.Set(ctx, "a", seattle()) // a is now newest
	_ = c.Set(ctx, "c", seattle())

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Error("a should survive after being rewritten")
	}
}

func TestInMemoryCache_Defaults(t *testing.T) {
	c, err := NewInMemoryCache(0, 0)
	if err != nil {
		t.Fatalf("NewInMemoryCache() error = %v", err)
	}
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}

func TestInMemoryCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, 50, time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*7+i)%80)
				_ = c.Set(ctx, key, seattle())
				_, _, _ = c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("Len() = %d exceeds max 50", c.Len())
	}
}

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c, _ := NewInMemoryCache(100, time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "seattle", seattle())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "seattle")
	}
}

func BenchmarkInMemoryCache_Set(b *testing.B) {
	c, _ := NewInMemoryCache(100, time.Minute)
	ctx := context.Background()
	rec := seattle()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i%200), rec)
	}
}
