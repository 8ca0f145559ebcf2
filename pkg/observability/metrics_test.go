package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetricsClient()

	m.IncrementCounter("dedup.shared", 1)
	m.IncrementCounter("dedup.shared", 2)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap["dedup.shared"])
}

func TestMetricsCacheOperation(t *testing.T) {
	m := NewMetricsClient()

	m.RecordCacheOperation("local", "get", true, time.Millisecond)
	m.RecordCacheOperation("local", "get", false, time.Millisecond)
	m.RecordCacheOperation("local", "get", true, time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap["cache.local.get.hit"])
	assert.Equal(t, int64(1), snap["cache.local.get.miss"])
	assert.Equal(t, int64(3), snap["cache.local.get.calls"])
}

func TestMetricsLabelsFoldedSorted(t *testing.T) {
	m := NewMetricsClient()

	m.IncrementCounterWithLabels("requests", 1, map[string]string{"tier": "redis", "op": "get"})
	m.IncrementCounterWithLabels("requests", 1, map[string]string{"op": "get", "tier": "redis"})

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap["requests,op=get,tier=redis"])
}

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetricsClientWithOptions(MetricsOptions{Enabled: false})

	m.IncrementCounter("x", 1)
	m.RecordLatency("y", time.Second)

	assert.Empty(t, m.Snapshot())
}

func TestLoggerPrefixChaining(t *testing.T) {
	base := NewLogger("resilient").(*StandardLogger)
	child := base.WithPrefix("redis").(*StandardLogger)
	assert.Equal(t, "resilient.redis", child.prefix)
}

func TestFormatFieldsSorted(t *testing.T) {
	out := formatFields(map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, " a=1 b=2", out)

	assert.Empty(t, formatFields(nil))
}
