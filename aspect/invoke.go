package aspect

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/glimte/weave-go/contracts"
)

// ErrorReporter receives after-stage advice failures, which never change the outcome
type ErrorReporter interface {
	ReportAdviceError(ctx context.Context, inv *Invocation, err error)
}

// ErrorReporterFunc is a function adapter for ErrorReporter
type ErrorReporterFunc func(ctx context.Context, inv *Invocation, err error)

// ReportAdviceError implements ErrorReporter
func (f ErrorReporterFunc) ReportAdviceError(ctx context.Context, inv *Invocation, err error) {
	f(ctx, inv, err)
}

// logReporter is the default ErrorReporter
type logReporter struct {
	logger *slog.Logger
}

func (r *logReporter) ReportAdviceError(ctx context.Context, inv *Invocation, err error) {
	r.logger.WarnContext(ctx, "after-stage advice failed",
		"operation", inv.Site().Path(),
		"invocationId", inv.ID(),
		"error", err,
	)
}

// Invoker executes advice chains around targets
type Invoker struct {
	logger    *slog.Logger
	reporter  ErrorReporter
	listeners []StateListener
}

// InvokerOption configures an Invoker
type InvokerOption func(*Invoker)

// WithLogger sets the logger used for dispatch diagnostics
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(iv *Invoker) {
		if logger != nil {
			iv.logger = logger
		}
	}
}

// WithErrorReporter sets the side channel for after-stage advice failures
func WithErrorReporter(reporter ErrorReporter) InvokerOption {
	return func(iv *Invoker) {
		iv.reporter = reporter
	}
}

// WithStateListener adds a listener for invocation state transitions
func WithStateListener(listener StateListener) InvokerOption {
	return func(iv *Invoker) {
		iv.listeners = append(iv.listeners, listener)
	}
}

// NewInvoker creates a new invoker
func NewInvoker(options ...InvokerOption) *Invoker {
	iv := &Invoker{logger: slog.Default()}

	for _, opt := range options {
		opt(iv)
	}

	if iv.reporter == nil {
		iv.reporter = &logReporter{logger: iv.logger}
	}
	return iv
}

var defaultInvoker = NewInvoker()

// Invoke executes chain around target using a default invoker
func Invoke(ctx context.Context, site *contracts.CallSite, target Target, chain []Binding) (any, error) {
	return defaultInvoker.Invoke(ctx, site, target, chain)
}

// chain splits a resolved binding sequence by kind, keeping declaration order
type chain struct {
	before  []Binding
	around  []Binding
	after   []Binding
	success []Binding
	failure []Binding
}

func splitChain(bindings []Binding) chain {
	var c chain
	for _, b := range bindings {
		switch b.Kind {
		case KindBefore:
			c.before = append(c.before, b)
		case KindAround:
			c.around = append(c.around, b)
		case KindAfter:
			c.after = append(c.after, b)
		case KindAfterSuccess:
			c.success = append(c.success, b)
		case KindAfterFailure:
			c.failure = append(c.failure, b)
		}
	}
	return c
}

// Invoke executes the advice chain around target.
//
// Precedence is by kind, then by resolution order: every before binding runs
// ahead of every around binding, whichever rule declared it. Before bindings
// abort the call on failure. Around bindings nest with the first one outermost
// and the target innermost. After bindings always
// run; then afterSuccess or afterFailure bindings run depending on the outcome.
// A failure is returned as *OperationError; no result is returned with it.
func (iv *Invoker) Invoke(ctx context.Context, site *contracts.CallSite, target Target, bindings []Binding) (any, error) {
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &OperationError{Site: *site, Cause: ErrNilTarget}
	}

	c := splitChain(bindings)
	inv := newInvocation(site, iv.listeners)

	inv.transition(StateBeforeRunning)
	for _, b := range c.before {
		if err := runBefore(ctx, inv, b); err != nil {
			adviceErr := &AdviceError{Kind: KindBefore, Advice: b.Name, Cause: err}
			inv.setOutcome(nil, adviceErr)
			inv.transition(StateCompleted)
			iv.logCompletion(ctx, inv)
			return nil, iv.operationError(inv, adviceErr)
		}
	}

	inv.transition(StateAroundNesting)
	result, err := iv.proceedAt(ctx, inv, c.around, 0, target)
	if err != nil && inv.state != StateFailed {
		inv.transition(StateFailed)
	} else if err == nil && inv.state != StateSucceeded {
		inv.transition(StateSucceeded)
	}
	inv.setOutcome(result, err)

	inv.transition(StateAfterRunning)
	for _, b := range c.after {
		if aerr := runAfter(ctx, inv, b); aerr != nil {
			iv.report(ctx, inv, &AdviceError{Kind: KindAfter, Advice: b.Name, Cause: aerr})
		}
	}

	if err == nil {
		inv.transition(StateSuccessHandling)
		for _, b := range c.success {
			replaced, serr := runAfterSuccess(ctx, inv, b, result)
			if serr != nil {
				iv.report(ctx, inv, &AdviceError{Kind: KindAfterSuccess, Advice: b.Name, Cause: serr})
				continue
			}
			result = replaced
			inv.setOutcome(result, nil)
		}
	} else {
		inv.transition(StateFailureHandling)
		for _, b := range c.failure {
			fallback, panicked, ferr := runAfterFailure(ctx, inv, b, err)
			if panicked {
				iv.report(ctx, inv, &AdviceError{Kind: KindAfterFailure, Advice: b.Name, Cause: ferr})
				continue
			}
			if ferr == nil {
				result, err = fallback, nil
				inv.setOutcome(result, nil)
				break
			}
			err = ferr
			inv.setOutcome(nil, err)
		}
	}

	inv.transition(StateCompleted)
	iv.logCompletion(ctx, inv)

	if err != nil {
		return nil, iv.operationError(inv, err)
	}
	return result, nil
}

// proceedAt runs around binding i, or the target once every around has been entered
func (iv *Invoker) proceedAt(ctx context.Context, inv *Invocation, arounds []Binding, i int, target Target) (any, error) {
	if i == len(arounds) {
		inv.transition(StateTargetExecuting)
		result, err := callTarget(ctx, target)
		if err != nil {
			inv.transition(StateFailed)
		} else {
			inv.transition(StateSucceeded)
		}
		return result, err
	}

	b := arounds[i]
	var innerErr error
	proceed := func(ctx context.Context) (any, error) {
		result, err := iv.proceedAt(ctx, inv, arounds, i+1, target)
		innerErr = err
		return result, err
	}

	result, err := runAround(ctx, inv, b, proceed)
	if err != nil && (innerErr == nil || !errors.Is(err, innerErr)) {
		err = &AdviceError{Kind: KindAround, Advice: b.Name, Cause: err}
	}
	if err != nil {
		result = nil
	}
	return result, err
}

func (iv *Invoker) report(ctx context.Context, inv *Invocation, err error) {
	inv.afterErrors = append(inv.afterErrors, err)
	iv.reporter.ReportAdviceError(ctx, inv, err)
}

func (iv *Invoker) operationError(inv *Invocation, cause error) error {
	return &OperationError{Site: *inv.site, InvocationID: inv.id, Cause: cause}
}

func (iv *Invoker) logCompletion(ctx context.Context, inv *Invocation) {
	iv.logger.DebugContext(ctx, "invocation completed",
		"operation", inv.site.Path(),
		"invocationId", inv.id,
		"duration", inv.Elapsed(),
		"success", inv.err == nil,
	)
}

func recovered(r any) error {
	return &PanicError{Value: r, Stack: debug.Stack()}
}

func callTarget(ctx context.Context, target Target) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, recovered(r)
		}
	}()
	return target(ctx)
}

func runBefore(ctx context.Context, inv *Invocation, b Binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return b.before(ctx, inv)
}

func runAfter(ctx context.Context, inv *Invocation, b Binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return b.after(ctx, inv)
}

func runAround(ctx context.Context, inv *Invocation, b Binding, proceed Proceed) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, recovered(r)
		}
	}()
	return b.around(ctx, inv, proceed)
}

func runAfterSuccess(ctx context.Context, inv *Invocation, b Binding, current any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, recovered(r)
		}
	}()
	return b.success(ctx, inv, current)
}

func runAfterFailure(ctx context.Context, inv *Invocation, b Binding, cause error) (result any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, panicked, err = nil, true, recovered(r)
		}
	}()
	result, err = b.failure(ctx, inv, cause)
	return result, false, err
}
