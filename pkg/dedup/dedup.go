// Package dedup coalesces concurrent identical requests so that at most one
// execution per key is in flight at a time. Waiters share the original
// call's result or error; an in-flight entry older than the dedup window no
// longer attracts new waiters.
package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/resilient-client/pkg/observability"
)

// DefaultWindow is the dedup window applied when callers pass zero
const DefaultWindow = 5 * time.Second

type flight struct {
	generation uint64
	startedAt  time.Time
	waiters    int
}

// Deduplicator tracks in-flight calls keyed by a canonical request
// fingerprint. Registration and execution start are atomic with respect to
// concurrent callers of the same key.
type Deduplicator struct {
	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*flight

	logger  observability.Logger
	metrics observability.MetricsClient

	shared atomic.Int64

	// injectable for window-expiry tests
	now func() time.Time
}

// New creates a Deduplicator
func New(logger observability.Logger, metrics observability.MetricsClient) *Deduplicator {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsClientWithOptions(observability.MetricsOptions{Enabled: false})
	}
	return &Deduplicator{
		inflight: make(map[string]*flight),
		logger:   logger.WithPrefix("dedup"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Execute runs fn for key, joining an existing in-flight execution if one
// started less than window ago. All waiters of a flight receive the same
// value or the same error. The in-flight entry is removed when fn settles,
// regardless of how many waiters joined.
//
// fn carries its own context; cancelling the context of the caller that
// started the flight fails every waiter (shared fate).
func (d *Deduplicator) Execute(key string, window time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	d.mu.Lock()
	f, ok := d.inflight[key]
	if !ok {
		f = &flight{startedAt: d.now()}
		d.inflight[key] = f
	} else if d.now().Sub(f.startedAt) > window {
		// Too old to join; start a fresh execution. Waiters of the old
		// generation keep their shared result.
		f.generation++
		f.startedAt = d.now()
		f.waiters = 0
	}
	f.waiters++
	gen := f.generation
	waiters := f.waiters
	d.mu.Unlock()

	if waiters > 1 {
		d.logger.Debug("joining in-flight request", map[string]interface{}{
			"key":     key,
			"waiters": waiters,
		})
	}

	flightKey := fmt.Sprintf("%s@%d", key, gen)
	v, err, sharedCall := d.group.Do(flightKey, func() (interface{}, error) {
		defer d.settle(key, gen, flightKey)
		return fn()
	})
	if sharedCall {
		d.shared.Add(1)
		d.metrics.IncrementCounter("dedup.shared", 1)
	}
	return v, err
}

// settle removes the in-flight entry once the underlying call has finished.
// A newer generation for the same key is left untouched.
func (d *Deduplicator) settle(key string, gen uint64, flightKey string) {
	d.mu.Lock()
	if f, ok := d.inflight[key]; ok && f.generation == gen {
		delete(d.inflight, key)
	}
	d.mu.Unlock()
	d.group.Forget(flightKey)
}

// SharedCount returns the number of calls that were served by joining an
// existing execution instead of running their own.
func (d *Deduplicator) SharedCount() int64 {
	return d.shared.Load()
}

// InFlight returns the number of keys currently executing
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
