package cache

import (
	"context"
	"time"
)

// DualCache chains the in-process tier in front of Redis: reads try local
// first and backfill it on a Redis hit, writes go through to both. The local
// tier gets a shorter TTL than Redis so a fragment invalidated upstream ages
// out of every gateway process quickly even though Redis still holds it.
type DualCache struct {
	local    *MemoryCache
	remote   *RedisCache
	localTTL time.Duration
}

// DualCacheConfig configures the local tier's lifetime. The remote TTL is
// whatever callers pass to Set (or the Redis backend's default).
type DualCacheConfig struct {
	LocalTTL time.Duration // default 30s
}

// DefaultDualCacheConfig returns the default above.
func DefaultDualCacheConfig() DualCacheConfig {
	return DualCacheConfig{LocalTTL: 30 * time.Second}
}

// NewDualCache chains local in front of remote. remote may be nil, which
// degrades to a purely local cache (used in tests).
func NewDualCache(local *MemoryCache, remote *RedisCache, cfg DualCacheConfig) *DualCache {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = DefaultDualCacheConfig().LocalTTL
	}
	return &DualCache{local: local, remote: remote, localTTL: cfg.LocalTTL}
}

// Get reads through the tiers: local, then Redis with a local backfill.
func (c *DualCache) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := c.local.Get(ctx, key); err == nil && value != nil {
		return value, nil
	}
	if c.remote == nil {
		return nil, nil
	}

	value, err := c.remote.Get(ctx, key)
	if err != nil || value == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, key, value, c.localTTL)
	return value, nil
}

// Set writes through to both tiers. Redis is written first: if it rejects
// the write, the local tier must not hold a value no other process can see.
func (c *DualCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return c.local.Set(ctx, key, value, c.localTTL)
}

// Delete removes key from both tiers.
func (c *DualCache) Delete(ctx context.Context, key string) error {
	localErr := c.local.Delete(ctx, key)
	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			return err
		}
	}
	return localErr
}

// Ping reports reachability of the remote tier; the local tier cannot fail.
func (c *DualCache) Ping(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Ping(ctx)
}

// Close releases both tiers.
func (c *DualCache) Close() error {
	localErr := c.local.Close()
	if c.remote != nil {
		if err := c.remote.Close(); err != nil {
			return err
		}
	}
	return localErr
}

// Stats combines both tiers: a hit on either tier is a hit, and only
// requests that missed everywhere count as misses.
func (c *DualCache) Stats() Stats {
	local := c.local.Stats()
	if c.remote == nil {
		return local
	}
	remote := c.remote.Stats()

	hits := local.Hits + remote.Hits
	misses := remote.Misses
	combined := Stats{
		Hits:   hits,
		Misses: misses,
		Sets:   remote.Sets,
		Errors: remote.Errors,
	}
	if total := hits + misses; total > 0 {
		combined.HitRate = float64(hits) / float64(total)
	}
	return combined
}
