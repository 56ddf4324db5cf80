package pointcut

import (
	"errors"
	"fmt"
)

// ErrInvalidPattern is the sentinel matched by every InvalidPatternError
var ErrInvalidPattern = errors.New("pointcut: invalid pattern")

// InvalidPatternError reports a pattern that could not be parsed
type InvalidPatternError struct {
	Pattern string
	Pos     int
	Reason  string
	Err     error
}

// Error implements the error interface
func (e *InvalidPatternError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pointcut %q at offset %d: %s: %v", e.Pattern, e.Pos, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid pointcut %q at offset %d: %s", e.Pattern, e.Pos, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidPattern) hold
func (e *InvalidPatternError) Is(target error) bool {
	return target == ErrInvalidPattern
}

// Unwrap returns the underlying compile error, if any
func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}
