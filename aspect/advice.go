package aspect

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidBinding is returned when a binding has no action for its kind
var ErrInvalidBinding = errors.New("aspect: binding has no action")

// Kind identifies when an advice runs relative to the target
type Kind int

const (
	KindBefore Kind = iota
	KindAround
	KindAfter
	KindAfterSuccess
	KindAfterFailure
)

func (k Kind) String() string {
	switch k {
	case KindBefore:
		return "before"
	case KindAround:
		return "around"
	case KindAfter:
		return "after"
	case KindAfterSuccess:
		return "afterSuccess"
	case KindAfterFailure:
		return "afterFailure"
	default:
		return "unknown"
	}
}

// ParseKind converts the textual kind used in rule files into a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "before":
		return KindBefore, nil
	case "around":
		return KindAround, nil
	case "after":
		return KindAfter, nil
	case "afterSuccess", "afterReturning":
		return KindAfterSuccess, nil
	case "afterFailure", "afterThrowing":
		return KindAfterFailure, nil
	default:
		return 0, fmt.Errorf("aspect: unknown advice kind %q", s)
	}
}

// Proceed runs the next inner layer of the chain and finally the target
type Proceed func(ctx context.Context) (any, error)

// Target is the operation being intercepted
type Target func(ctx context.Context) (any, error)

// BeforeFunc runs before the target; an error aborts the call
type BeforeFunc func(ctx context.Context, inv *Invocation) error

// AfterFunc runs after the target regardless of its outcome
type AfterFunc func(ctx context.Context, inv *Invocation) error

// AfterSuccessFunc receives the result and returns the result to pass on
type AfterSuccessFunc func(ctx context.Context, inv *Invocation, result any) (any, error)

// AfterFailureFunc receives the failure. Returning a non-nil error replaces it,
// returning nil recovers with the returned value as the result.
type AfterFailureFunc func(ctx context.Context, inv *Invocation, cause error) (any, error)

// AroundFunc wraps the inner layers; not calling proceed short-circuits them
type AroundFunc func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error)

// Advisor supplies advice bindings, usually several kinds sharing one piece of state
type Advisor interface {
	Bindings() []Binding
}

// Binding attaches one action of a given kind to a rule
type Binding struct {
	Kind Kind
	Name string

	before  BeforeFunc
	after   AfterFunc
	success AfterSuccessFunc
	failure AfterFailureFunc
	around  AroundFunc
}

// Before creates a before binding
func Before(name string, fn BeforeFunc) Binding {
	return Binding{Kind: KindBefore, Name: name, before: fn}
}

// After creates an after binding
func After(name string, fn AfterFunc) Binding {
	return Binding{Kind: KindAfter, Name: name, after: fn}
}

// AfterSuccess creates an afterSuccess binding
func AfterSuccess(name string, fn AfterSuccessFunc) Binding {
	return Binding{Kind: KindAfterSuccess, Name: name, success: fn}
}

// AfterFailure creates an afterFailure binding
func AfterFailure(name string, fn AfterFailureFunc) Binding {
	return Binding{Kind: KindAfterFailure, Name: name, failure: fn}
}

// Around creates an around binding
func Around(name string, fn AroundFunc) Binding {
	return Binding{Kind: KindAround, Name: name, around: fn}
}

// OnSuccess creates an afterSuccess binding that observes the result without replacing it
func OnSuccess(name string, fn func(ctx context.Context, inv *Invocation, result any)) Binding {
	return AfterSuccess(name, func(ctx context.Context, inv *Invocation, result any) (any, error) {
		fn(ctx, inv, result)
		return result, nil
	})
}

// OnFailure creates an afterFailure binding that observes the failure without replacing it
func OnFailure(name string, fn func(ctx context.Context, inv *Invocation, cause error)) Binding {
	return AfterFailure(name, func(ctx context.Context, inv *Invocation, cause error) (any, error) {
		fn(ctx, inv, cause)
		return nil, cause
	})
}

// Bindings implements Advisor so a single binding can be passed where advisors are expected
func (b Binding) Bindings() []Binding {
	return []Binding{b}
}

// Validate checks that the binding carries the action its kind needs
func (b Binding) Validate() error {
	var ok bool
	switch b.Kind {
	case KindBefore:
		ok = b.before != nil
	case KindAround:
		ok = b.around != nil
	case KindAfter:
		ok = b.after != nil
	case KindAfterSuccess:
		ok = b.success != nil
	case KindAfterFailure:
		ok = b.failure != nil
	}
	if !ok {
		return fmt.Errorf("%w: %s binding %q", ErrInvalidBinding, b.Kind, b.Name)
	}
	return nil
}

func (b Binding) String() string {
	if b.Name == "" {
		return b.Kind.String()
	}
	return b.Kind.String() + ":" + b.Name
}
