package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/developer-mesh/resilient-client/pkg/observability"
)

// RedisConfig holds configuration for the distributed cache tier
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	// OpTimeout bounds every cache operation so a wedged server cannot
	// stall the request path
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

func (c *RedisConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 500 * time.Millisecond
	}
}

// HealthStatus reports distributed-cache reachability
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// RemoteStats is a read-only view of the distributed tier for monitoring
type RemoteStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// RedisCache is the shared distributed cache tier. Every operation is
// fail-open: transport and server errors degrade to a miss (Get) or an
// unsuccessful flag (Set/Delete) and are never propagated to the caller.
// The tier holds only re-derivable data, so losing it is harmless.
type RedisCache struct {
	client *redis.Client
	config RedisConfig

	logger  observability.Logger
	metrics observability.MetricsClient

	hits     atomic.Int64
	misses   atomic.Int64
	errCount atomic.Int64
}

// NewRedisCache connects to Redis and verifies reachability once at
// construction time. Operations after that never fail the request path.
func NewRedisCache(config RedisConfig, logger observability.Logger, metrics observability.MetricsClient) (*RedisCache, error) {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsClientWithOptions(observability.MetricsOptions{Enabled: false})
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client:  client,
		config:  config,
		logger:  logger.WithPrefix("cache.redis"),
		metrics: metrics,
	}, nil
}

func (c *RedisCache) key(k string) string {
	if c.config.KeyPrefix == "" {
		return k
	}
	return c.config.KeyPrefix + ":" + k
}

func (c *RedisCache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.OpTimeout)
}

// Get retrieves a value, reporting whether it was found. Errors degrade to
// a miss.
func (c *RedisCache) Get(ctx context.Context, key string, out interface{}) bool {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.errCount.Add(1)
			c.logger.Warn("redis get failed, treating as miss", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		c.misses.Add(1)
		c.metrics.RecordCacheOperation("redis", "get", false, time.Since(start))
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.errCount.Add(1)
		c.logger.Warn("failed to decode cached value, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		c.misses.Add(1)
		c.metrics.RecordCacheOperation("redis", "get", false, time.Since(start))
		return false
	}

	c.hits.Add(1)
	c.metrics.RecordCacheOperation("redis", "get", true, time.Since(start))
	return true
}

// Set stores a value with the given TTL, reporting success
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	start := time.Now()
	data, err := json.Marshal(value)
	if err != nil {
		c.errCount.Add(1)
		c.logger.Warn("failed to marshal value for cache", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.errCount.Add(1)
		c.logger.Warn("redis set failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	c.metrics.RecordCacheOperation("redis", "set", true, time.Since(start))
	return true
}

// Delete removes a key, reporting success
func (c *RedisCache) Delete(ctx context.Context, key string) bool {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.errCount.Add(1)
		c.logger.Warn("redis delete failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// DeletePattern removes every key matching the glob pattern and returns the
// number of keys removed. Partial progress is kept on error.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) int {
	removed := 0
	iter := c.client.Scan(ctx, 0, c.key(pattern), 100).Iterator()

	batch := make([]string, 0, 100)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		opCtx, cancel := c.opCtx(ctx)
		defer cancel()
		n, err := c.client.Del(opCtx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		if err != nil {
			c.errCount.Add(1)
			c.logger.Warn("redis delete pattern failed", map[string]interface{}{
				"pattern": pattern,
				"error":   err.Error(),
			})
			return false
		}
		return true
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if !flush() {
				return removed
			}
		}
	}
	if err := iter.Err(); err != nil {
		c.errCount.Add(1)
		c.logger.Warn("redis scan failed", map[string]interface{}{
			"pattern": pattern,
			"error":   err.Error(),
		})
	}
	flush()
	return removed
}

// MultiGet fetches several keys in a single round trip. Each result slot is
// the raw JSON encoding of the value, or nil when absent. Errors degrade to
// an all-miss result.
func (c *RedisCache) MultiGet(ctx context.Context, keys []string) []json.RawMessage {
	out := make([]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out
	}

	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}

	vals, err := c.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		c.errCount.Add(1)
		c.logger.Warn("redis mget failed, treating as all-miss", map[string]interface{}{
			"keys":  len(keys),
			"error": err.Error(),
		})
		c.misses.Add(int64(len(keys)))
		return out
	}

	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = json.RawMessage(s)
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
	}
	c.metrics.RecordCacheOperation("redis", "mget", true, time.Since(start))
	return out
}

// Health pings the server and reports reachability with round-trip latency
func (c *RedisCache) Health(ctx context.Context) HealthStatus {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	return HealthStatus{
		Healthy: err == nil,
		Latency: time.Since(start),
	}
}

// Stats returns a read-only view of the tier
func (c *RedisCache) Stats() RemoteStats {
	return RemoteStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errCount.Load(),
	}
}

// Close closes the underlying connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
