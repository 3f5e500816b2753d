package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCache is the cross-process tier: resolved-reference fragments keyed by
// cache key, namespaced so several gateways can share one Redis without
// colliding with other tenants of it.
type RedisCache struct {
	client     goredis.UniversalClient
	namespace  string
	defaultTTL time.Duration

	hits     atomic.Int64
	misses   atomic.Int64
	sets     atomic.Int64
	failures atomic.Int64
}

// RedisCacheConfig holds the connection and keyspace settings. Addrs with a
// single element dials one node unless Cluster is set; several elements
// dial a cluster. MasterName selects sentinel-managed failover instead.
type RedisCacheConfig struct {
	Addrs      []string
	Cluster    bool
	MasterName string
	Password   string
	DB         int

	Namespace  string
	DefaultTTL time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultRedisCacheConfig returns settings for a local single-node Redis.
// The read/write timeouts are deliberately short: a slow cache must never
// cost more than the upstream fetch it is trying to save.
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Addrs:        []string{"localhost:6379"},
		Namespace:    "gateway",
		DefaultTTL:   60 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	}
}

// NewRedisCache dials Redis per cfg and verifies the connection with a ping
// bounded by the dial timeout, so a misconfigured cache address fails at
// startup rather than on the first proxied request.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	def := DefaultRedisCacheConfig()
	if len(cfg.Addrs) == 0 {
		cfg.Addrs = def.Addrs
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	client := dial(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisCache{
		client:     client,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// dial maps cfg onto go-redis's universal options: sentinel when MasterName
// is set, an explicit cluster client when Cluster is set, otherwise whatever
// the universal client infers from the address count.
func dial(cfg RedisCacheConfig) goredis.UniversalClient {
	opts := &goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.Cluster && cfg.MasterName == "" {
		return goredis.NewClusterClient(opts.Cluster())
	}
	return goredis.NewUniversalClient(opts)
}

func (c *RedisCache) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Get returns the value stored under key, or nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case err == nil:
		c.hits.Add(1)
		return value, nil
	case errors.Is(err, goredis.Nil):
		c.misses.Add(1)
		return nil, nil
	default:
		c.failures.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}
}

// Set stores value under key for ttl (the configured default when ttl <= 0).
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	c.sets.Add(1)
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Stats returns hit/miss/error counters since construction.
func (c *RedisCache) Stats() Stats {
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
		Errors:  c.failures.Load(),
		HitRate: hitRate,
	}
}
