// Package aspect attaches cross-cutting behavior to operations without modifying them.
//
// A Registry holds rules. Each rule pairs a pointcut pattern with advice bindings
// of five kinds:
//   - before: runs first; an error aborts the call
//   - around: wraps the inner layers and decides whether to proceed
//   - after: always runs once the wrapped segment has finished
//   - afterSuccess: receives the result and may replace it
//   - afterFailure: receives the failure and may replace or recover it
//
// Resolve returns the bindings of every matching rule in registration order, and
// an Invoker executes them around a target:
//
//	registry := aspect.NewRegistry(logger)
//	registry.MustRegister(aspect.NewRule("general", "* demo.App.*(..)",
//		aspect.NewLoggingAdvice(logger),
//		aspect.NewTimingAdvice(logger, collector),
//	))
//
//	site := contracts.NewCallSite("demo.App.hi", contracts.Arg{Name: "name", Type: "string", Value: name})
//	result, err := aspect.NewInvoker(aspect.WithLogger(logger)).
//		Invoke(ctx, &site, target, registry.Resolve(&site))
//
// Around bindings nest with the first resolved one outermost. Failures reach the
// caller as *OperationError; failures of after-stage advice go to the
// ErrorReporter instead and never change the outcome.
//
// Built-in advisors:
//   - LoggingAdvice: logs every stage of the call
//   - TimingAdvice: measures the wrapped segment and feeds a MetricsCollector
//   - RequireArgAdvice: returns a Rejection when an argument is blank
//   - TimeoutAdvice: applies a context deadline to the wrapped segment
//   - RetryAdvice: re-runs the wrapped segment per a retry policy
//   - CircuitBreakerAdvice: guards the wrapped segment with a circuit breaker
//   - RecoverAdvice: replaces matching failures with a fallback value
package aspect
