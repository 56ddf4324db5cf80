package aspect

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rejection is returned in place of the target result when validation fails
type Rejection struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Field   string `json:"-"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%d %s", r.Status, r.Message)
}

// RequireArgAdvice short-circuits calls whose named argument is missing or blank
type RequireArgAdvice struct {
	arg     string
	status  int
	message string
}

// NewRequireArgAdvice creates a validation advice for the named argument.
// The default rejection is 400 "<Arg> is required".
func NewRequireArgAdvice(arg string) *RequireArgAdvice {
	return &RequireArgAdvice{
		arg:     arg,
		status:  http.StatusBadRequest,
		message: capitalize(arg) + " is required",
	}
}

// WithStatus sets the rejection status
func (r *RequireArgAdvice) WithStatus(status int) *RequireArgAdvice {
	r.status = status
	return r
}

// WithMessage sets the rejection message
func (r *RequireArgAdvice) WithMessage(message string) *RequireArgAdvice {
	r.message = message
	return r
}

// Bindings implements Advisor
func (r *RequireArgAdvice) Bindings() []Binding {
	return []Binding{Around("require-"+r.arg, r.around)}
}

func (r *RequireArgAdvice) around(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
	arg, ok := inv.Site().Arg(r.arg)
	if !ok || IsBlank(arg.Value) {
		return Rejection{Status: r.status, Message: r.message, Field: r.arg}, nil
	}
	return proceed(ctx)
}

// IsBlank reports whether v carries no usable value: nil, a whitespace-only
// string, a nil pointer, or an empty slice or map
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case *string:
		return t == nil || strings.TrimSpace(*t) == ""
	case []byte:
		return len(t) == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return false
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
