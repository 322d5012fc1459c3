package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(opts ...MemoryOption) (*MemoryCache, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}
	opts = append([]MemoryOption{WithMemoryCleanup(0), WithMemoryClock(clk.Now)}, opts...)
	return NewMemoryCache(opts...), clk
}

type entry struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	c, clk := newTestCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "cooldown:SOL", entry{Symbol: "SOL", Count: 2}, time.Minute))
	var got entry
	require.NoError(t, c.Get(ctx, "cooldown:SOL", &got))
	assert.Equal(t, entry{Symbol: "SOL", Count: 2}, got)

	ttl, err := c.TTL(ctx, "cooldown:SOL")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	require.NoError(t, c.Set(ctx, "raw", "text", 0))
	var s string
	require.NoError(t, c.Get(ctx, "raw", &s))
	assert.Equal(t, "text", s)

	clk.Advance(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "cooldown:SOL", &got), ErrCacheMiss)
	ok, err := c.Exists(ctx, "cooldown:SOL", "raw")
	require.NoError(t, err)
	assert.True(t, ok, "keys without expiry survive")
}

func TestMemoryCacheTryLock(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "emit:SOL", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.TryLock(ctx, "emit:SOL", 30*time.Second)
	assert.False(t, ok)

	clk.Advance(31 * time.Second)
	ok, _ = c.TryLock(ctx, "emit:SOL", 30*time.Second)
	assert.True(t, ok, "expired lock can be claimed again")

	require.NoError(t, c.Unlock(ctx, "emit:SOL"))
	_, err = c.TTL(ctx, "emit:SOL")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, clk := newTestCache(WithMemoryMaxSize(2))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	clk.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	clk.Advance(time.Second)
	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	clk.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, c.Len())
	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
}
