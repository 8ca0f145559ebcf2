package resilience

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(calls *atomic.Int64) func() (interface{}, error) {
	return func() (interface{}, error) {
		calls.Add(1)
		return nil, errBoom
	}
}

func succeedingOp(calls *atomic.Int64) func() (interface{}, error) {
	return func() (interface{}, error) {
		calls.Add(1)
		return "ok", nil
	}
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b := NewBreaker("vector-search", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
	}, nil, nil)

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, err := b.Execute(failingOp(&calls))
		assert.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, BreakerOpen, b.State())

	// The next call must be rejected without reaching the dependency
	_, err := b.Execute(failingOp(&calls))
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "vector-search", openErr.Dependency)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, openErr.RetryAfter, time.Minute)
	assert.Equal(t, int64(3), calls.Load())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker("llm-completion", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      50 * time.Millisecond,
	}, nil, nil)

	var calls atomic.Int64
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingOp(&calls))
	}
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(70 * time.Millisecond)

	// First trial call moves the breaker to half-open and is attempted
	v, err := b.Execute(succeedingOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// The second consecutive success closes the circuit
	_, err = b.Execute(succeedingOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      50 * time.Millisecond,
	}, nil, nil)

	var calls atomic.Int64
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingOp(&calls))
	}
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(70 * time.Millisecond)

	_, err := b.Execute(failingOp(&calls))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerIgnoresCallerFaults(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
	}, nil, nil)

	// Validation-style errors say nothing about dependency health
	for i := 0; i < 10; i++ {
		_, err := b.Execute(func() (interface{}, error) {
			return nil, Permanent(errors.New("invalid request"))
		})
		assert.Error(t, err)
	}

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerCountsWindowedFailures(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		MonitoringPeriod: time.Minute,
		OpenTimeout:      time.Minute,
	}, nil, nil)

	var calls atomic.Int64
	_, _ = b.Execute(failingOp(&calls))
	_, _ = b.Execute(failingOp(&calls))
	_, _ = b.Execute(succeedingOp(&calls))
	require.Equal(t, BreakerClosed, b.State())

	// Failures within the monitoring window count even across a success
	_, _ = b.Execute(failingOp(&calls))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerManagerCreatesOnFirstUse(t *testing.T) {
	m := NewBreakerManager(map[string]BreakerConfig{
		"vector-search": {FailureThreshold: 1},
	}, BreakerConfig{}, nil, nil)

	configured := m.Get("vector-search")
	require.NotNil(t, configured)

	created := m.Get("unknown-dep")
	require.NotNil(t, created)
	assert.Same(t, created, m.Get("unknown-dep"))

	snapshots := m.Snapshots()
	assert.Len(t, snapshots, 2)
}
