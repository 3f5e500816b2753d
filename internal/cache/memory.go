package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is the in-process backend: a TTL-bounded map of serialized
// resolved-reference fragments. Every entry the gateway writes carries the
// same short TTL, so expiry order equals insertion order and a plain FIFO of
// keys is enough to evict in the right order — no priority queue needed.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	fifo    []expiringKey

	maxEntries   int
	maxValueSize int
	defaultTTL   time.Duration

	janitor *time.Ticker
	stop    chan struct{}

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// expiringKey records when an entry was scheduled to expire at insertion
// time. A FIFO element is stale (and skipped) when the live entry for its key
// has a different deadline, which happens when a key is overwritten.
type expiringKey struct {
	key       string
	expiresAt time.Time
}

// MemoryCacheConfig bounds the in-process tier.
type MemoryCacheConfig struct {
	MaxEntries    int           // entry-count cap (default 1000)
	MaxValueSize  int           // per-value byte cap (default 1MB)
	DefaultTTL    time.Duration // applied when Set gets ttl <= 0 (default 60s)
	SweepInterval time.Duration // janitor period (default 1m)
}

// DefaultMemoryCacheConfig returns the defaults above.
func DefaultMemoryCacheConfig() MemoryCacheConfig {
	return MemoryCacheConfig{
		MaxEntries:    1000,
		MaxValueSize:  1024 * 1024,
		DefaultTTL:    60 * time.Second,
		SweepInterval: time.Minute,
	}
}

// NewMemoryCache builds the in-process tier and starts its janitor. Call
// Close to stop the janitor again.
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	def := DefaultMemoryCacheConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	c := &MemoryCache{
		entries:      make(map[string]memoryEntry),
		maxEntries:   cfg.MaxEntries,
		maxValueSize: cfg.MaxValueSize,
		defaultTTL:   cfg.DefaultTTL,
		janitor:      time.NewTicker(cfg.SweepInterval),
		stop:         make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *MemoryCache) sweepLoop() {
	for {
		select {
		case <-c.janitor.C:
			c.mu.Lock()
			c.evict(time.Now(), c.maxEntries)
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// evict drops expired FIFO-front entries, then keeps dropping the oldest
// live ones until at most limit remain. Callers hold c.mu.
func (c *MemoryCache) evict(now time.Time, limit int) {
	for len(c.fifo) > 0 {
		head := c.fifo[0]
		live, ok := c.entries[head.key]
		if ok && live.expiresAt.Equal(head.expiresAt) {
			if head.expiresAt.After(now) && len(c.entries) <= limit {
				return
			}
			delete(c.entries, head.key)
		}
		c.fifo = c.fifo[1:]
	}
}

// Get returns the cached value for key, or nil, nil past its deadline or
// when it was never stored.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !entry.expiresAt.After(time.Now()) {
		c.misses.Add(1)
		return nil, nil
	}

	c.hits.Add(1)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores value under key. Values over the per-value cap are dropped
// silently: a fragment too large to be worth caching must not fail the
// resolution that produced it.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if len(value) > c.maxValueSize {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evict(now, c.maxEntries-1)
	}

	entry := memoryEntry{value: stored, expiresAt: now.Add(ttl)}
	c.entries[key] = entry
	c.fifo = append(c.fifo, expiringKey{key: key, expiresAt: entry.expiresAt})

	c.sets.Add(1)
	return nil
}

// Delete removes key. The FIFO element, if any, goes stale and is skipped
// by the next eviction pass.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Ping reports the in-process tier as always reachable.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor.
func (c *MemoryCache) Close() error {
	c.janitor.Stop()
	close(c.stop)
	return nil
}

// Stats returns hit/miss counters since construction.
func (c *MemoryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		HitRate: hitRate,
	}
}

// Len reports how many entries are currently stored, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
