// Package cache provides the two cache tiers of the resilience layer: a
// bounded in-process LRU tier and a fail-open Redis tier. Both store values
// as their JSON encoding; neither is a source of truth.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/developer-mesh/resilient-client/pkg/observability"
)

// LocalConfig holds configuration for the in-process cache tier
type LocalConfig struct {
	// MaxEntries bounds the number of live entries
	MaxEntries int `mapstructure:"max_entries"`
	// MaxBytes bounds the sum of encoded entry sizes
	MaxBytes int64 `mapstructure:"max_bytes"`
	// DefaultTTL applies when Set is called with a zero TTL
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// CleanupInterval is the period of the background expiry sweep
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

func (c *LocalConfig) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 64 * 1024 * 1024 // 64MB
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 15 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
}

type localEntry struct {
	data         []byte
	expiresAt    time.Time
	lastAccessed time.Time
	size         int64
}

// LocalStats is a read-only view of the local tier for monitoring
type LocalStats struct {
	Entries     int   `json:"entries"`
	Bytes       int64 `json:"bytes"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

// LocalCache is an in-process cache with per-entry TTL, LRU eviction, and a
// byte budget. Operations never block on I/O. A background sweeper removes
// expired entries; its lifetime is tied to Close.
type LocalCache struct {
	mu           sync.Mutex
	entries      *lru.Cache[string, *localEntry]
	currentBytes int64
	config       LocalConfig

	logger  observability.Logger
	metrics observability.MetricsClient

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	// injectable for simulated-clock TTL tests
	now func() time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLocalCache creates a local cache tier and starts its expiry sweeper
func NewLocalCache(config LocalConfig, logger observability.Logger, metrics observability.MetricsClient) (*LocalCache, error) {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsClientWithOptions(observability.MetricsOptions{Enabled: false})
	}

	c := &LocalCache{
		config:  config,
		logger:  logger.WithPrefix("cache.local"),
		metrics: metrics,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	entries, err := lru.NewWithEvict[string, *localEntry](config.MaxEntries, c.onRemove)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU store: %w", err)
	}
	c.entries = entries

	c.wg.Add(1)
	go c.sweep()

	return c, nil
}

// onRemove keeps the byte accounting consistent for every removal path:
// capacity eviction, explicit delete, expiry, and clear. Called with c.mu held.
func (c *LocalCache) onRemove(key string, e *localEntry) {
	c.currentBytes -= e.size
}

// Get retrieves a value and promotes the entry to most-recently-used. An
// expired entry is deleted lazily and reported as a miss.
func (c *LocalCache) Get(key string, out interface{}) bool {
	start := time.Now()

	c.mu.Lock()
	e, ok := c.entries.Get(key)
	if ok && c.now().After(e.expiresAt) {
		c.entries.Remove(key)
		c.expirations++
		ok = false
	}
	var data []byte
	if ok {
		e.lastAccessed = c.now()
		data = e.data
	}
	if !ok {
		c.misses++
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.RecordCacheOperation("local", "get", false, time.Since(start))
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("failed to decode cached value, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		c.mu.Lock()
		c.entries.Remove(key)
		c.misses++
		c.mu.Unlock()
		c.metrics.RecordCacheOperation("local", "get", false, time.Since(start))
		return false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	c.metrics.RecordCacheOperation("local", "get", true, time.Since(start))
	return true
}

// Set stores a value with the given TTL, evicting least-recently-used
// entries until the byte budget holds. A value larger than the whole budget
// is not cached.
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	size := int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove any existing entry first so size re-accounting is exact
	c.entries.Remove(key)

	if size > c.config.MaxBytes {
		c.logger.Warn("value exceeds cache byte budget, not caching", map[string]interface{}{
			"key":        key,
			"size_bytes": size,
		})
		return nil
	}

	for c.currentBytes+size > c.config.MaxBytes && c.entries.Len() > 0 {
		c.entries.RemoveOldest()
		c.evictions++
	}

	now := c.now()
	if evicted := c.entries.Add(key, &localEntry{
		data:         data,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		size:         size,
	}); evicted {
		c.evictions++
	}
	c.currentBytes += size
	return nil
}

// Delete removes an entry, reporting whether it was present
func (c *LocalCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(key)
}

// Clear removes every entry
func (c *LocalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len returns the number of live entries
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a read-only view of the tier
func (c *LocalCache) Stats() LocalStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LocalStats{
		Entries:     c.entries.Len(),
		Bytes:       c.currentBytes,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// Close stops the background sweeper and waits for it to exit
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *LocalCache) sweep() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired drops entries past their TTL without promoting them
func (c *LocalCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && now.After(e.expiresAt) {
			c.entries.Remove(key)
			c.expirations++
		}
	}
}
