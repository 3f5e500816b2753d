package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMemoryCache disables the janitor so tests observe lazy expiry only.
func newTestMemoryCache(t *testing.T, cfg MemoryCacheConfig) *MemoryCache {
	t.Helper()
	cfg.SweepInterval = time.Hour
	c := NewMemoryCache(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "users/profiles/42", []byte(`{"id":"42"}`), 0))

	value, err := c.Get(ctx, "users/profiles/42")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":"42"}`), value)

	value, err = c.Get(ctx, "users/profiles/43")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, c.Delete(ctx, "users/profiles/42"))
	value, err = c.Get(ctx, "users/profiles/42")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryCache_OverwriteKeepsLatestValue(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), 0))
	require.NoError(t, c.Set(ctx, "k", []byte("v2"), 0))

	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestMemoryCache_ExpiryIsLazy(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{DefaultTTL: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 0))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), time.Minute))

	value, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.NotNil(t, value)

	time.Sleep(50 * time.Millisecond)

	value, err = c.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, value, "entry past its deadline must read as a miss")

	value, err = c.Get(ctx, "long")
	require.NoError(t, err)
	assert.NotNil(t, value, "a per-entry TTL overrides the default")
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{MaxEntries: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("v"), 0))
	}

	assert.LessOrEqual(t, c.Len(), 3)

	// The newest entries survive; the oldest were evicted first.
	value, err := c.Get(ctx, "key-4")
	require.NoError(t, err)
	assert.NotNil(t, value)
	value, err = c.Get(ctx, "key-0")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryCache_OversizedValueIsDroppedSilently(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{MaxValueSize: 8})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "big", make([]byte, 64), 0))

	value, err := c.Get(ctx, "big")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryCache_GetReturnsACopy(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("abc"), 0))

	first, err := c.Get(ctx, "k")
	require.NoError(t, err)
	first[0] = 'X'

	second, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), second)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "absent")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.01)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := newTestMemoryCache(t, MemoryCacheConfig{MaxEntries: 64})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%16)
			if i%2 == 0 {
				_ = c.Set(ctx, key, []byte("v"), 0)
			} else {
				_, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
