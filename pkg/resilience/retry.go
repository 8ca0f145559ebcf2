package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/developer-mesh/resilient-client/pkg/observability"
)

// RetryConfig defines configuration for retries
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `mapstructure:"max_retries"`
	// InitialInterval is the base delay before the first retry
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	// MaxInterval caps the computed delay
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// Multiplier grows the delay between attempts
	Multiplier float64 `mapstructure:"multiplier"`
	// RandomizationFactor adds jitter to desynchronize concurrent retries
	RandomizationFactor float64 `mapstructure:"randomization_factor"`
	// AttemptTimeout bounds each individual attempt, independently of the
	// retry budget
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// RetryIf decides whether an error is worth retrying; defaults to
	// DefaultRetryable
	RetryIf func(error) bool `mapstructure:"-"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = 2.0
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryable
	}
	return c
}

// Retry runs op with exponential backoff and jitter. Each attempt gets its
// own timeout context. Non-retryable errors surface after exactly one
// attempt; an exhausted budget surfaces as *ExhaustedError wrapping the
// last underlying error.
func Retry[T any](ctx context.Context, name string, config RetryConfig, logger observability.Logger, op func(context.Context) (T, error)) (T, error) {
	cfg := config.withDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialInterval
	expo.MaxInterval = cfg.MaxInterval
	expo.Multiplier = cfg.Multiplier
	expo.RandomizationFactor = cfg.RandomizationFactor
	// The budget is attempt-counted, not wall-clock-bounded
	expo.MaxElapsedTime = 0

	var bo backoff.BackOff = backoff.WithMaxRetries(expo, uint64(cfg.MaxRetries))
	bo = backoff.WithContext(bo, ctx)

	attempts := 0
	permanent := false

	operation := func() (T, error) {
		attempts++
		attemptCtx := ctx
		if cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
			defer cancel()
		}

		v, err := op(attemptCtx)
		if err != nil && !cfg.RetryIf(err) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn("retrying operation", map[string]interface{}{
			"operation": name,
			"attempt":   attempts,
			"delay_ms":  delay.Milliseconds(),
			"error":     err.Error(),
		})
	}

	v, err := backoff.RetryNotifyWithData(operation, bo, notify)
	if err != nil && !permanent && ctx.Err() == nil && attempts > cfg.MaxRetries {
		return v, &ExhaustedError{Attempts: attempts, Err: err}
	}
	return v, err
}
