package contracts

import (
	"errors"
	"strings"
)

// ErrMissingMethod is returned when a call site has no method name
var ErrMissingMethod = errors.New("call site: method name is required")

// Arg is a single argument of a call site together with its declared type
type Arg struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"-"`
}

// CallSite describes one concrete invocation of an operation.
// It is built by the caller and treated as read-only while advice runs.
type CallSite struct {
	// Namespace is the dotted namespace of the declaring type, e.g. "xyz.demo"
	Namespace string `json:"namespace,omitempty"`
	// Type is the declaring type name
	Type string `json:"type,omitempty"`
	// Method is the operation name
	Method string `json:"method"`
	// Returns is the declared result type, empty when unknown
	Returns string `json:"returns,omitempty"`
	// Args are the call arguments in declaration order
	Args []Arg `json:"args,omitempty"`
	// Annotations are marker names attached to the operation
	Annotations []string `json:"annotations,omitempty"`
}

// NewCallSite builds a call site from a dotted path. The last segment is the
// method, the one before it the type and the rest the namespace.
func NewCallSite(path string, args ...Arg) CallSite {
	site := CallSite{Args: args}
	parts := strings.Split(path, ".")
	switch len(parts) {
	case 1:
		site.Method = parts[0]
	case 2:
		site.Type, site.Method = parts[0], parts[1]
	default:
		n := len(parts)
		site.Namespace = strings.Join(parts[:n-2], ".")
		site.Type, site.Method = parts[n-2], parts[n-1]
	}
	return site
}

// WithAnnotations returns a copy of the call site carrying the given markers
func (s CallSite) WithAnnotations(names ...string) CallSite {
	s.Annotations = append(append([]string(nil), s.Annotations...), names...)
	return s
}

// WithReturns returns a copy of the call site with the declared result type set
func (s CallSite) WithReturns(returns string) CallSite {
	s.Returns = returns
	return s
}

// Validate checks that the call site can be matched and dispatched
func (s *CallSite) Validate() error {
	if s == nil || s.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// TypePath returns Namespace.Type with empty parts omitted
func (s *CallSite) TypePath() string {
	return joinNonEmpty(s.Namespace, s.Type)
}

// Path returns Namespace.Type.Method with empty parts omitted
func (s *CallSite) Path() string {
	return joinNonEmpty(s.Namespace, s.Type, s.Method)
}

// Segments returns the dotted path split into its segments
func (s *CallSite) Segments() []string {
	return splitNonEmpty(s.Path())
}

// TypeSegments returns the dotted type path split into its segments
func (s *CallSite) TypeSegments() []string {
	return splitNonEmpty(s.TypePath())
}

// Arg looks up an argument by name
func (s *CallSite) Arg(name string) (Arg, bool) {
	for _, a := range s.Args {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

// ArgTypes returns the declared argument types in order
func (s *CallSite) ArgTypes() []string {
	types := make([]string, len(s.Args))
	for i, a := range s.Args {
		types[i] = a.Type
	}
	return types
}

// Values returns the argument values in order
func (s *CallSite) Values() []any {
	values := make([]any, len(s.Args))
	for i, a := range s.Args {
		values[i] = a.Value
	}
	return values
}

// HasAnnotation reports whether the call site carries the given marker
func (s *CallSite) HasAnnotation(name string) bool {
	for _, a := range s.Annotations {
		if a == name {
			return true
		}
	}
	return false
}

func joinNonEmpty(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}

func splitNonEmpty(path string) []string {
	if path == "" {
		return nil
	}
	raw := strings.Split(path, ".")
	out := raw[:0]
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
