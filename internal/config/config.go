// Package config loads the gateway's configuration from environment
// variables once at process start. The configuration — most importantly the
// service registry — is immutable for the lifetime of the process.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const serviceEnvPrefix = "SERVICE_"

// Config is the complete, immutable gateway configuration.
type Config struct {
	ListenAddr string

	Services map[string]string // service name -> base URL

	Cache CacheConfig

	CORSEnabled bool

	Tracing TracingConfig

	FetchTimeout        time.Duration
	FetchMaxConcurrency int
	MaxLevel            int // 0 means unbounded

	// FetchRatePerSecond optionally caps the steady-state rate of outbound
	// upstream fetches, independent of FetchMaxConcurrency. 0 disables it.
	FetchRatePerSecond float64
	FetchRateBurst     int
}

// CacheConfig configures the shared reference cache.
type CacheConfig struct {
	Enabled             bool
	Type                string // "local", "redis", "dual"
	Namespace           string
	TTL                 time.Duration
	RedisURL            string
	RedisCluster        bool
	RedisConnectTimeout time.Duration
	RedisGetTimeout     time.Duration
	RedisSetTimeout     time.Duration
}

// TracingConfig configures the OpenTelemetry exporter. The SENTRY_* env
// vars that feed it are kept for deployment compatibility.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Environment string
	SampleRate  float64
}

// Load builds a Config from the process environment. It is called exactly
// once, at startup.
func Load() Config {
	cfg := Config{
		ListenAddr:          getEnv("GATEWAY_LISTEN_ADDR", ":8000"),
		Services:            loadServices(),
		CORSEnabled:         getEnvBool("DO_ADD_CORS_HEADERS", false),
		FetchTimeout:        getEnvDuration("FETCH_TIMEOUT", 3*time.Second),
		FetchMaxConcurrency: getEnvInt("FETCH_MAX_CONCURRENCY", 64),
		MaxLevel:            getEnvInt("GATEWAY_MAX_LEVEL", 0),
		FetchRatePerSecond:  getEnvFloat("FETCH_RATE_LIMIT", 0),
		FetchRateBurst:      getEnvInt("FETCH_RATE_BURST", 32),
	}

	cfg.Cache = CacheConfig{
		Enabled:             getEnv("REDIS_URL", "") != "" || getEnvBool("CACHE_ENABLED", false),
		Type:                getEnv("CACHE_TYPE", "dual"),
		Namespace:           getEnv("CACHE_NAMESPACE", "gateway"),
		TTL:                 getEnvDuration("CACHE_TTL", 60*time.Second),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisCluster:        getEnvBool("REDIS_CLUSTER", false),
		RedisConnectTimeout: getEnvDurationMillis("REDIS_CONNECT_TIMEOUT", 10000),
		RedisGetTimeout:     getEnvDurationMillis("REDIS_TIMEOUT_GET", 1000),
		RedisSetTimeout:     getEnvDurationMillis("REDIS_TIMEOUT_SET", 1000),
	}

	cfg.Tracing = TracingConfig{
		Enabled:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "") != "" || getEnv("SENTRY_DSN", "") != "",
		Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName: getEnv("OTEL_SERVICE_NAME", "gateway"),
		Environment: getEnv("SENTRY_ENVIRONMENT", "development"),
		SampleRate:  getEnvFloat("SENTRY_TRACES_SAMPLE_RATE", 1.0),
	}

	return cfg
}

// loadServices builds the static service registry from every SERVICE_<NAME>
// environment variable: the suffix is lowercased and underscores become
// dashes, so SERVICE_USER_PROFILES=... registers "user-profiles".
func loadServices() map[string]string {
	services := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, serviceEnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, serviceEnvPrefix))
		name = strings.ReplaceAll(name, "_", "-")
		services[name] = v
	}
	return services
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getEnvDurationMillis parses an integer-milliseconds env var (the REDIS_*
// timeout knobs are historically integer milliseconds, not Go durations).
func getEnvDurationMillis(key string, fallbackMillis int) time.Duration {
	ms := getEnvInt(key, fallbackMillis)
	return time.Duration(ms) * time.Millisecond
}
