// Package observability provides the logging, metrics, and tracing
// surface shared by every component of the resilience layer.
package observability

import (
	"time"
)

// LogLevel defines log message severity
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Logger defines the interface for logging
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	// WithPrefix returns a logger scoped to the given component prefix
	WithPrefix(prefix string) Logger
}

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	// RecordCacheOperation records a cache operation with its outcome
	RecordCacheOperation(tier string, operation string, hit bool, duration time.Duration)

	// IncrementCounter increments a named counter
	IncrementCounter(name string, value int64)

	// IncrementCounterWithLabels increments a named counter with labels
	IncrementCounterWithLabels(name string, value int64, labels map[string]string)

	// RecordLatency records the latency of a named operation
	RecordLatency(operation string, duration time.Duration)

	// Snapshot returns the current counter values
	Snapshot() map[string]int64

	// Close releases any resources held by the client
	Close() error
}
