package cache

import (
	"fmt"
	"time"
)

// Config selects and parameterizes a shared-cache backend. It is sourced
// from environment variables at process start (see internal/config).
type Config struct {
	Type      Type
	Enabled   bool
	Namespace string
	TTL       time.Duration
	Memory    MemoryCacheConfig
	Redis     RedisCacheConfig
	Dual      DualCacheConfig
}

// DefaultConfig returns caching disabled with a local backend selected.
func DefaultConfig() Config {
	return Config{
		Type:      TypeLocal,
		Enabled:   false,
		Namespace: "gateway",
		TTL:       60 * time.Second,
		Memory:    DefaultMemoryCacheConfig(),
		Redis:     DefaultRedisCacheConfig(),
		Dual:      DefaultDualCacheConfig(),
	}
}

// New builds the configured cache backend. A disabled config returns a nil
// Cache, which callers treat as "no shared cache tier".
func New(cfg Config) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case TypeLocal:
		memCfg := cfg.Memory
		if cfg.TTL > 0 {
			memCfg.DefaultTTL = cfg.TTL
		}
		return NewMemoryCache(memCfg), nil

	case TypeRedis:
		return NewRedisCache(redisConfig(cfg))

	case TypeDual:
		remote, err := NewRedisCache(redisConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("create redis tier: %w", err)
		}
		return NewDualCache(NewMemoryCache(cfg.Memory), remote, cfg.Dual), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func redisConfig(cfg Config) RedisCacheConfig {
	redisCfg := cfg.Redis
	if cfg.Namespace != "" {
		redisCfg.Namespace = cfg.Namespace
	}
	if cfg.TTL > 0 {
		redisCfg.DefaultTTL = cfg.TTL
	}
	return redisCfg
}
