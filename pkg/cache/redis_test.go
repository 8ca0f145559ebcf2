package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T, config RedisConfig) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.Address = mr.Addr()
	c, err := NewRedisCache(config, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c, mr
}

func TestRedisCacheSetGet(t *testing.T) {
	c, _ := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.True(t, c.Set(ctx, "k1", payload{Name: "a", Count: 3}, time.Minute))

	var got payload
	require.True(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, payload{Name: "a", Count: 3}, got)

	var missing payload
	assert.False(t, c.Get(ctx, "absent", &missing))
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "k1", "value", 10*time.Second))

	var got string
	require.True(t, c.Get(ctx, "k1", &got))

	mr.FastForward(11 * time.Second)

	assert.False(t, c.Get(ctx, "k1", &got))
}

func TestRedisCacheKeyPrefix(t *testing.T) {
	c, mr := newTestRedisCache(t, RedisConfig{KeyPrefix: "resilient"})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "k1", "v", time.Minute))
	assert.True(t, mr.Exists("resilient:k1"))
}

func TestRedisCacheFailOpen(t *testing.T) {
	c, mr := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "k1", "v", time.Minute))

	// A dead server must degrade to misses and unsuccessful writes,
	// never errors
	mr.Close()

	var got string
	assert.False(t, c.Get(ctx, "k1", &got))
	assert.False(t, c.Set(ctx, "k2", "v", time.Minute))
	assert.False(t, c.Delete(ctx, "k1"))

	stats := c.Stats()
	assert.Greater(t, stats.Errors, int64(0))
}

func TestRedisCacheDelete(t *testing.T) {
	c, _ := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "k1", "v", time.Minute))
	assert.True(t, c.Delete(ctx, "k1"))

	var got string
	assert.False(t, c.Get(ctx, "k1", &got))
}

func TestRedisCacheDeletePattern(t *testing.T) {
	c, _ := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "search:a", 1, time.Minute))
	require.True(t, c.Set(ctx, "search:b", 2, time.Minute))
	require.True(t, c.Set(ctx, "complete:a", 3, time.Minute))

	removed := c.DeletePattern(ctx, "search:*")
	assert.Equal(t, 2, removed)

	var got int
	assert.False(t, c.Get(ctx, "search:a", &got))
	assert.True(t, c.Get(ctx, "complete:a", &got))
}

func TestRedisCacheMultiGet(t *testing.T) {
	c, _ := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "a", "first", time.Minute))
	require.True(t, c.Set(ctx, "c", "third", time.Minute))

	results := c.MultiGet(ctx, []string{"a", "b", "c"})
	require.Len(t, results, 3)

	assert.JSONEq(t, `"first"`, string(results[0]))
	assert.Nil(t, results[1])
	assert.JSONEq(t, `"third"`, string(results[2]))
}

func TestRedisCacheMultiGetFailOpen(t *testing.T) {
	c, mr := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	require.True(t, c.Set(ctx, "a", 1, time.Minute))
	mr.Close()

	results := c.MultiGet(ctx, []string{"a", "b"})
	require.Len(t, results, 2)
	assert.Nil(t, results[0])
	assert.Nil(t, results[1])
}

func TestRedisCacheHealth(t *testing.T) {
	c, mr := newTestRedisCache(t, RedisConfig{})
	ctx := context.Background()

	status := c.Health(ctx)
	assert.True(t, status.Healthy)
	assert.GreaterOrEqual(t, status.Latency, time.Duration(0))

	mr.Close()
	status = c.Health(ctx)
	assert.False(t, status.Healthy)
}

func TestRedisCacheConnectFailure(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Address: "127.0.0.1:1"}, nil, nil)
	assert.Error(t, err)
}
