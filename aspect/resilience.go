package aspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/weave-go/internal/reliability"
)

// RetryAttemptsKey is the invocation value holding the number of retries performed
const RetryAttemptsKey = "retry.attempts"

// TimeoutAdvice bounds the wrapped segment with a context deadline.
// The deadline is cooperative: inner layers must observe ctx to stop early.
type TimeoutAdvice struct {
	timeout time.Duration
}

// NewTimeoutAdvice creates a timeout advice
func NewTimeoutAdvice(timeout time.Duration) *TimeoutAdvice {
	return &TimeoutAdvice{timeout: timeout}
}

// Bindings implements Advisor
func (t *TimeoutAdvice) Bindings() []Binding {
	return []Binding{Around("timeout", t.around)}
}

func (t *TimeoutAdvice) around(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := proceed(timeoutCtx)
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w after %v: %w", ErrTimeout, t.timeout, err)
	}
	return result, err
}

// RetryAdvice re-runs the wrapped segment according to a retry policy
type RetryAdvice struct {
	policy reliability.RetryPolicy
	logger *slog.Logger
}

// NewRetryAdvice creates a retry advice; a nil policy retries three times with exponential backoff
func NewRetryAdvice(policy reliability.RetryPolicy, logger *slog.Logger) *RetryAdvice {
	if policy == nil {
		policy = reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryAdvice{policy: policy, logger: logger}
}

// Bindings implements Advisor
func (r *RetryAdvice) Bindings() []Binding {
	return []Binding{Around("retry", r.around)}
}

func (r *RetryAdvice) around(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
	var result any
	hook := func(attempt int, err error, delay time.Duration) {
		inv.Set(RetryAttemptsKey, attempt+1)
		r.logger.WarnContext(ctx, "retrying operation",
			"operation", inv.Site().Path(),
			"invocationId", inv.ID(),
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
	}

	err := reliability.RetryWithHook(ctx, r.policy, hook, func() error {
		var err error
		result, err = proceed(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CircuitBreakerAdvice stops calling a failing segment until it has had time to recover
type CircuitBreakerAdvice struct {
	breaker *reliability.CircuitBreaker
}

// NewCircuitBreakerAdvice creates a circuit breaker advice
func NewCircuitBreakerAdvice(options ...reliability.CircuitBreakerOption) *CircuitBreakerAdvice {
	return &CircuitBreakerAdvice{breaker: reliability.NewCircuitBreaker(options...)}
}

// Breaker returns the underlying circuit breaker
func (c *CircuitBreakerAdvice) Breaker() *reliability.CircuitBreaker {
	return c.breaker
}

// Bindings implements Advisor
func (c *CircuitBreakerAdvice) Bindings() []Binding {
	return []Binding{Around("circuit-breaker:"+c.breaker.Name(), c.around)}
}

func (c *CircuitBreakerAdvice) around(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
	var result any
	err := c.breaker.Execute(ctx, func() error {
		var err error
		result, err = proceed(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecoverAdvice replaces matching failures with a fallback result
type RecoverAdvice struct {
	fallback any
	match    func(error) bool
}

// NewRecoverAdvice creates a recover advice; a nil match recovers every failure
func NewRecoverAdvice(fallback any, match func(error) bool) *RecoverAdvice {
	return &RecoverAdvice{fallback: fallback, match: match}
}

// Bindings implements Advisor
func (r *RecoverAdvice) Bindings() []Binding {
	return []Binding{AfterFailure("recover", r.fallbackFor)}
}

func (r *RecoverAdvice) fallbackFor(ctx context.Context, inv *Invocation, cause error) (any, error) {
	if r.match != nil && !r.match(cause) {
		return nil, cause
	}
	return r.fallback, nil
}
