package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/resilient-client/pkg/observability"
)

// BreakerState represents the state of a circuit breaker
type BreakerState string

// Circuit breaker states
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig holds configuration for a circuit breaker. The defaults are
// operational policy, not invariants; tune them per dependency.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within the monitoring
	// period that trips the breaker
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close the breaker again
	SuccessThreshold int `mapstructure:"success_threshold"`
	// MonitoringPeriod is the sliding window over which failures are counted
	MonitoringPeriod time.Duration `mapstructure:"monitoring_period"`
	// OpenTimeout is how long the breaker stays open before allowing a
	// trial call
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = 2 * time.Minute
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
}

// Breaker wraps a gobreaker circuit breaker for a single logical dependency.
// It does not retry; retries compose inside the breaker so that one
// exhausted retry run counts as exactly one failure.
type Breaker struct {
	name    string
	config  BreakerConfig
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient

	mu       sync.RWMutex
	openedAt time.Time
}

// BreakerSnapshot is a read-only view of a breaker for monitoring
type BreakerSnapshot struct {
	Name                string       `json:"name"`
	State               BreakerState `json:"state"`
	Requests            uint32       `json:"requests"`
	TotalFailures       uint32       `json:"total_failures"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
}

// NewBreaker creates a circuit breaker for the named dependency
func NewBreaker(name string, config BreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *Breaker {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsClientWithOptions(observability.MetricsOptions{Enabled: false})
	}

	b := &Breaker{
		name:    name,
		config:  config,
		logger:  logger.WithPrefix("breaker"),
		metrics: metrics,
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.SuccessThreshold),
		Interval:    config.MonitoringPeriod,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= uint32(config.FailureThreshold)
		},
		// Caller faults are not dependency-health signals
		IsSuccessful: func(err error) bool {
			return err == nil || IsNonRetryable(err)
		},
		OnStateChange: b.onStateChange,
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)

	return b
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
	}

	b.logger.Warn("circuit breaker state change", map[string]interface{}{
		"dependency": name,
		"from":       stateName(from),
		"to":         stateName(to),
	})
	b.metrics.IncrementCounterWithLabels("circuit_breaker.transition", 1, map[string]string{
		"dependency": name,
		"to":         string(stateName(to)),
	})
}

// Execute runs fn through the breaker. Rejections surface as
// *CircuitOpenError carrying the dependency name and the time until the
// next allowed attempt.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &CircuitOpenError{
			Dependency: b.name,
			RetryAfter: b.retryAfter(),
		}
	}
	return v, err
}

func (b *Breaker) retryAfter() time.Duration {
	b.mu.RLock()
	openedAt := b.openedAt
	b.mu.RUnlock()

	if openedAt.IsZero() {
		return 0
	}
	remaining := b.config.OpenTimeout - time.Since(openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	return stateName(b.cb.State())
}

// Snapshot returns a read-only view of the breaker
func (b *Breaker) Snapshot() BreakerSnapshot {
	counts := b.cb.Counts()
	return BreakerSnapshot{
		Name:                b.name,
		State:               stateName(b.cb.State()),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

func stateName(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// BreakerManager holds one breaker per logical dependency. It is an
// explicitly constructed value, shared by composition at the application
// entry point rather than through package-level state.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
	defaults BreakerConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewBreakerManager creates a manager with per-dependency configs and a
// default config for dependencies not listed.
func NewBreakerManager(configs map[string]BreakerConfig, defaults BreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *BreakerManager {
	defaults.applyDefaults()
	m := &BreakerManager{
		breakers: make(map[string]*Breaker),
		configs:  configs,
		defaults: defaults,
		logger:   logger,
		metrics:  metrics,
	}
	for name, config := range configs {
		m.breakers[name] = NewBreaker(name, config, logger, metrics)
	}
	return m
}

// Get returns the breaker for the named dependency, creating it on first use
func (m *BreakerManager) Get(name string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Check again in case it was created while we were waiting for the lock
	if breaker, exists = m.breakers[name]; exists {
		return breaker
	}

	config, ok := m.configs[name]
	if !ok {
		config = m.defaults
	}
	breaker = NewBreaker(name, config, m.logger, m.metrics)
	m.breakers[name] = breaker
	return breaker
}

// Snapshots returns a view of every registered breaker
func (m *BreakerManager) Snapshots() []BreakerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
