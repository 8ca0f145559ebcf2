package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// metricsClient aggregates counters in memory. It backs the read-only
// observability snapshot; it is not an export pipeline.
type metricsClient struct {
	mu       sync.RWMutex
	counters map[string]int64
	enabled  bool
}

// MetricsOptions contains configuration options for creating a metrics client
type MetricsOptions struct {
	Enabled bool
}

// NewMetricsClient creates a new metrics client with default options
func NewMetricsClient() MetricsClient {
	return NewMetricsClientWithOptions(MetricsOptions{Enabled: true})
}

// NewMetricsClientWithOptions creates a new metrics client with specific options
func NewMetricsClientWithOptions(options MetricsOptions) MetricsClient {
	return &metricsClient{
		counters: make(map[string]int64),
		enabled:  options.Enabled,
	}
}

// RecordCacheOperation records a cache operation with its outcome
func (m *metricsClient) RecordCacheOperation(tier string, operation string, hit bool, duration time.Duration) {
	if !m.enabled {
		return
	}

	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.IncrementCounter(fmt.Sprintf("cache.%s.%s.%s", tier, operation, outcome), 1)
	m.RecordLatency(fmt.Sprintf("cache.%s.%s", tier, operation), duration)
}

// IncrementCounter increments a named counter
func (m *metricsClient) IncrementCounter(name string, value int64) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
}

// IncrementCounterWithLabels increments a named counter with labels folded
// into the counter name, sorted for stability
func (m *metricsClient) IncrementCounterWithLabels(name string, value int64, labels map[string]string) {
	if !m.enabled {
		return
	}

	if len(labels) == 0 {
		m.IncrementCounter(name, value)
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf(",%s=%s", k, labels[k]))
	}
	m.IncrementCounter(sb.String(), value)
}

// RecordLatency records the latency of a named operation. Only call counts
// and cumulative milliseconds are kept; percentile tracking belongs to an
// external metrics system.
func (m *metricsClient) RecordLatency(operation string, duration time.Duration) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	m.counters[operation+".calls"]++
	m.counters[operation+".total_ms"] += duration.Milliseconds()
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counter values
func (m *metricsClient) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Close implements MetricsClient.Close
func (m *metricsClient) Close() error {
	return nil
}
