// Package client composes the cache tiers, request deduplication, circuit
// breaking, and retries into a single execute entry point for calls to
// slow, unreliable backends.
package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/resilient-client/pkg/cache"
	"github.com/developer-mesh/resilient-client/pkg/dedup"
	"github.com/developer-mesh/resilient-client/pkg/observability"
	"github.com/developer-mesh/resilient-client/pkg/resilience"
)

// Config holds per-dependency configuration for a Client
type Config struct {
	// Dependency names the wrapped backend, e.g. "vector-search" or
	// "llm-completion"
	Dependency string `mapstructure:"dependency"`
	// DefaultTTL applies to cached results when options carry no TTL
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// DedupWindow bounds how long concurrent identical requests coalesce
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	// Retry configures the retry executor for origin calls
	Retry resilience.RetryConfig `mapstructure:"retry"`
	// Breaker configures the dependency's circuit breaker
	Breaker resilience.BreakerConfig `mapstructure:"breaker"`
}

// Deps are the process-wide collaborators a Client references but does not
// own. Local and Dedup are required; Remote and Limiter are optional.
type Deps struct {
	Local   *cache.LocalCache
	Remote  *cache.RedisCache
	Dedup   *dedup.Deduplicator
	Limiter *rate.Limiter
	Logger  observability.Logger
	Metrics observability.MetricsClient
}

// Options tunes a single Execute call. Zero values fall back to the
// client's defaults.
type Options struct {
	TTL            time.Duration
	DedupWindow    time.Duration
	MaxRetries     int
	AttemptTimeout time.Duration
	RetryIf        func(error) bool
}

// Client is the resilient entry point for one logical dependency. It owns
// the dependency's circuit breaker and retry policy and shares the cache
// tiers and deduplicator with every other client in the process.
type Client struct {
	name    string
	local   *cache.LocalCache
	remote  *cache.RedisCache
	dedup   *dedup.Deduplicator
	breaker *resilience.Breaker
	limiter *rate.Limiter

	retry       resilience.RetryConfig
	defaultTTL  time.Duration
	dedupWindow time.Duration

	logger  observability.Logger
	metrics observability.MetricsClient

	originCalls atomic.Int64
}

// Snapshot is the read-only observability view of a client and its shared
// tiers. It is advisory, not part of the functional contract.
type Snapshot struct {
	Dependency  string                     `json:"dependency"`
	Local       cache.LocalStats           `json:"local"`
	Remote      *cache.RemoteStats         `json:"remote,omitempty"`
	Breaker     resilience.BreakerSnapshot `json:"breaker"`
	DedupShared int64                      `json:"dedup_shared"`
	OriginCalls int64                      `json:"origin_calls"`
}

// New creates a Client for the named dependency
func New(config Config, deps Deps) (*Client, error) {
	if config.Dependency == "" {
		return nil, fmt.Errorf("dependency name is required")
	}
	if deps.Local == nil {
		return nil, fmt.Errorf("local cache is required")
	}
	if deps.Dedup == nil {
		return nil, fmt.Errorf("deduplicator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetricsClientWithOptions(observability.MetricsOptions{Enabled: false})
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 15 * time.Minute
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = dedup.DefaultWindow
	}

	return &Client{
		name:        config.Dependency,
		local:       deps.Local,
		remote:      deps.Remote,
		dedup:       deps.Dedup,
		breaker:     resilience.NewBreaker(config.Dependency, config.Breaker, logger, metrics),
		limiter:     deps.Limiter,
		retry:       config.Retry,
		defaultTTL:  config.DefaultTTL,
		dedupWindow: config.DedupWindow,
		logger:      logger.WithPrefix(config.Dependency),
		metrics:     metrics,
	}, nil
}

// Name returns the dependency name
func (c *Client) Name() string { return c.name }

// Snapshot returns the observability view of this client
func (c *Client) Snapshot() Snapshot {
	s := Snapshot{
		Dependency:  c.name,
		Local:       c.local.Stats(),
		Breaker:     c.breaker.Snapshot(),
		DedupShared: c.dedup.SharedCount(),
		OriginCalls: c.originCalls.Load(),
	}
	if c.remote != nil {
		remote := c.remote.Stats()
		s.Remote = &remote
	}
	return s
}

// Invalidate removes a key from both cache tiers
func (c *Client) Invalidate(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.remote != nil {
		c.remote.Delete(ctx, key)
	}
}

// Execute runs op behind the full resilience stack for key: request
// deduplication, the local then distributed cache tiers, and a
// circuit-breaker-gated retry executor. On success the result is written to
// the distributed tier and then the local tier; failures are never cached.
//
// Callers see either the value or one of: the origin's non-retryable error
// unchanged, *resilience.ExhaustedError, or *resilience.CircuitOpenError.
// Concurrent callers must use the same result type T for the same key.
func Execute[T any](ctx context.Context, c *Client, key string, op func(context.Context) (T, error), opts Options) (T, error) {
	var zero T

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	window := opts.DedupWindow
	if window <= 0 {
		window = c.dedupWindow
	}
	retryCfg := c.retry
	if opts.MaxRetries > 0 {
		retryCfg.MaxRetries = opts.MaxRetries
	}
	if opts.AttemptTimeout > 0 {
		retryCfg.AttemptTimeout = opts.AttemptTimeout
	}
	if opts.RetryIf != nil {
		retryCfg.RetryIf = opts.RetryIf
	}

	v, err := c.dedup.Execute(key, window, func() (interface{}, error) {
		res, ferr := fetchTyped(ctx, c, key, ttl, retryCfg, op)
		if ferr != nil {
			return nil, ferr
		}
		return res, nil
	})
	if err != nil {
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("deduplicated result for key %q has unexpected type %T", key, v)
	}
	return out, nil
}

// fetchTyped is the inner, non-coalesced path: cache tiers, then the gated
// origin call.
func fetchTyped[T any](ctx context.Context, c *Client, key string, ttl time.Duration, retryCfg resilience.RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var zero T

	ctx, span := observability.StartSpan(ctx, "resilient.execute",
		attribute.String("dependency", c.name),
		attribute.String("cache.key", key),
	)
	defer span.End()

	var cached T
	if c.local.Get(key, &cached) {
		span.SetAttribute("cache.tier", "local")
		return cached, nil
	}

	if c.remote != nil && c.remote.Get(ctx, key, &cached) {
		span.SetAttribute("cache.tier", "redis")
		if err := c.local.Set(key, cached, ttl); err != nil {
			c.logger.Debug("failed to backfill local cache", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return cached, nil
	}

	span.SetAttribute("cache.tier", "origin")
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}

	c.originCalls.Add(1)
	// Breaker outermost: an exhausted retry run counts as one failure,
	// not MaxRetries failures.
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return resilience.Retry(ctx, c.name, retryCfg, c.logger, func(attemptCtx context.Context) (interface{}, error) {
			return op(attemptCtx)
		})
	})
	if err != nil {
		span.RecordError(err)
		return zero, err
	}

	result, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("origin result for key %q has unexpected type %T", key, v)
	}

	if c.remote != nil {
		c.remote.Set(ctx, key, result, ttl)
	}
	if err := c.local.Set(key, result, ttl); err != nil {
		c.logger.Debug("failed to populate local cache", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return result, nil
}
