package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds configuration for a per-dependency rate limiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate toward the origin
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst is the short-burst allowance
	Burst int `mapstructure:"burst"`
}

func (c *RateLimiterConfig) applyDefaults() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 50
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
}

// RateLimiterManager manages one token-bucket limiter per dependency
type RateLimiterManager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	configs  map[string]RateLimiterConfig
	defaults RateLimiterConfig
}

// NewRateLimiterManager creates a manager with per-dependency configs and a
// default config for dependencies not listed.
func NewRateLimiterManager(configs map[string]RateLimiterConfig, defaults RateLimiterConfig) *RateLimiterManager {
	defaults.applyDefaults()
	m := &RateLimiterManager{
		limiters: make(map[string]*rate.Limiter),
		configs:  configs,
		defaults: defaults,
	}
	for name, config := range configs {
		config.applyDefaults()
		m.limiters[name] = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}
	return m
}

// Get returns the limiter for the named dependency, creating it on first use
func (m *RateLimiterManager) Get(name string) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[name]
	m.mu.RUnlock()
	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Check again in case it was created while we were waiting for the lock
	if limiter, exists = m.limiters[name]; exists {
		return limiter
	}

	config, ok := m.configs[name]
	if !ok {
		config = m.defaults
	}
	config.applyDefaults()
	limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	m.limiters[name] = limiter
	return limiter
}

// Wait blocks until the named dependency's limiter permits a request or the
// context is cancelled.
func (m *RateLimiterManager) Wait(ctx context.Context, name string) error {
	return m.Get(name).Wait(ctx)
}
