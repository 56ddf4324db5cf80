package aspect

import (
	"errors"
	"fmt"

	"github.com/glimte/weave-go/contracts"
	"github.com/glimte/weave-go/pointcut"
)

var (
	// ErrInvalidPattern matches every pointcut parse failure
	ErrInvalidPattern = pointcut.ErrInvalidPattern

	// ErrNilTarget is returned when Invoke is called without a target
	ErrNilTarget = errors.New("aspect: target is nil")

	// ErrTimeout is wrapped by failures produced by the timeout advice
	ErrTimeout = errors.New("aspect: operation timed out")
)

// InvalidPatternError reports a pointcut pattern that could not be parsed
type InvalidPatternError = pointcut.InvalidPatternError

// OperationError is the error returned to the caller when an invocation fails
type OperationError struct {
	Site         contracts.CallSite
	InvocationID string
	Cause        error
}

// Error implements the error interface
func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.Site.Path(), e.Cause)
}

// Unwrap returns the original cause
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// AdviceError reports a failure raised by an advice action itself
type AdviceError struct {
	Kind   Kind
	Advice string
	Cause  error
}

// Error implements the error interface
func (e *AdviceError) Error() string {
	if e.Advice == "" {
		return fmt.Sprintf("%s advice failed: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s advice %q failed: %v", e.Kind, e.Advice, e.Cause)
}

// Unwrap returns the original cause
func (e *AdviceError) Unwrap() error {
	return e.Cause
}

// PanicError carries a value recovered from a panicking target or advice
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsAdviceError reports whether err was raised by a before or around advice body
func IsAdviceError(err error) bool {
	var adviceErr *AdviceError
	return errors.As(err, &adviceErr)
}

// Cause returns the innermost error carried by an OperationError, or err itself
func Cause(err error) error {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Cause
	}
	return err
}
