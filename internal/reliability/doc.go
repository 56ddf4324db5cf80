// Package reliability provides the retry and circuit breaker primitives behind
// the resilience advice of the aspect package.
//
//   - Retry policies: exponential backoff and fixed delay, with retryable error classification
//   - Circuit breaker: closed, open and half-open states with threshold based transitions
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithSuccessThreshold(3),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return riskyOperation()
//	})
package reliability
