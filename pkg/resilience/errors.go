// Package resilience provides the failure-isolation building blocks of the
// layer: circuit breaking, bounded retries with backoff, rate limiting, and
// the error taxonomy shared by all of them.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// CircuitOpenError is returned when a call is rejected because the
// dependency's circuit breaker is open. RetryAfter is the time remaining
// until the breaker allows a trial call.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %q, retry after %s", e.Dependency, e.RetryAfter)
}

// ExhaustedError is returned when the retry budget ran out. It wraps the
// last underlying error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// NonRetryableError marks an error as a caller fault (validation, malformed
// request, authentication). Such errors are never retried and carry no
// circuit-breaker penalty, because they say nothing about dependency health.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err is marked as a caller fault
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}

// TransientError marks an error as retryable regardless of the default
// classification, e.g. a provider-specific overload signal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err as retryable
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is explicitly marked retryable
func IsTransient(err error) bool {
	var tr *TransientError
	return errors.As(err, &tr)
}

// RetryableStatus reports whether an HTTP-style status code signals a
// transient condition: rate limiting or server overload.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 503, 504:
		return true
	}
	return false
}

// StatusCoder is implemented by errors that carry an HTTP-style status code
type StatusCoder interface {
	StatusCode() int
}

// DefaultRetryable is the default retryability classifier. Network-transient
// conditions retry; everything else fails fast. Unknown errors are
// non-retryable by default so client bugs do not amplify load.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNonRetryable(err) {
		return false
	}
	if IsTransient(err) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return RetryableStatus(sc.StatusCode())
	}

	return false
}
