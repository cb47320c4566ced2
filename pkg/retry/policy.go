// Package retry wraps remote operations in bounded exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/metrics"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy defines retry behavior
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// RetryIf decides whether a failed attempt may be retried. nil retries
	// every error.
	RetryIf func(error) bool

	logger *zap.Logger
	sleep  Sleeper
}

// DefaultPolicy returns the pipeline's reference policy: three attempts,
// 1s base delay doubling up to 30s, no jitter.
func DefaultPolicy(logger *zap.Logger) *Policy {
	return NewPolicy(logger, 3, time.Second, 30*time.Second)
}

// NewPolicy creates a policy with exponential backoff
func NewPolicy(logger *zap.Logger, maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Multiplier:  2.0,
		logger:      logger,
		sleep:       SleepContext,
	}
}

// WithSleeper returns a copy of the policy that waits with s.
func (p *Policy) WithSleeper(s Sleeper) *Policy {
	policy := p.Clone()
	policy.sleep = s
	return policy
}

// WithRetryIf returns a copy of the policy that only retries errors for
// which fn returns true.
func (p *Policy) WithRetryIf(fn func(error) bool) *Policy {
	policy := p.Clone()
	policy.RetryIf = fn
	return policy
}

// Clone creates a copy of the retry policy
func (p *Policy) Clone() *Policy {
	c := *p
	return &c
}

// Validate checks the policy's bounds.
func (p *Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "max attempts must be at least 1").
			WithDetail("max_attempts", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New(errors.ErrorTypeConfig, "retry delays cannot be negative")
	}
	return nil
}

// Delay returns the wait after the failed attempt with zero-based index
// attempt: min(BaseDelay * Multiplier^attempt, MaxDelay).
func (p *Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Execute runs fn until it succeeds or the policy gives up. op names the
// operation in logs and metrics. After the final failed attempt the last
// error is returned wrapped as an ErrorTypeRemote error; it still unwraps
// to the operation's own error.
func (p *Policy) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = SleepContext
	}
	log := p.logger
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			log.Info("retrying remote operation",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay))
			metrics.RetryAttempts.WithLabelValues(op).Inc()
			if err := sleep(ctx, delay); err != nil {
				return zero, errors.Wrap(err, errors.ErrorTypeRemote, "retry cancelled").
					WithDetail("operation", op).
					WithDetail("last_error", errString(lastErr))
			}
		} else {
			log.Debug("remote operation attempt",
				zap.String("operation", op),
				zap.Int("attempt", 1),
				zap.Int("max_attempts", p.MaxAttempts))
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		log.Warn("remote operation failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Error(err))

		if p.RetryIf != nil && !p.RetryIf(err) {
			return zero, err
		}
	}

	metrics.RetryExhausted.WithLabelValues(op).Inc()
	return zero, errors.Wrap(lastErr, errors.ErrorTypeRemote, "remote operation failed after retries").
		WithDetail("operation", op).
		WithDetail("max_attempts", p.MaxAttempts)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
