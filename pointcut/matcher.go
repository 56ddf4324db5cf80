package pointcut

import (
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/glimte/weave-go/contracts"
)

// Matcher is a predicate over call-site metadata
type Matcher interface {
	Match(site *contracts.CallSite) bool
	String() string
}

type segmentKind int

const (
	segExact segmentKind = iota
	segAny
	segRest
	segGlob
)

// segment is one element of a path or argument-list pattern
type segment struct {
	kind segmentKind
	text string
}

func (s segment) String() string {
	switch s.kind {
	case segAny:
		return "*"
	case segRest:
		return ".."
	default:
		return s.text
	}
}

func (s segment) matchOne(v string) bool {
	switch s.kind {
	case segAny:
		return true
	case segGlob:
		return globMatch(s.text, v)
	default:
		return s.text == v
	}
}

// matchSegments matches values against pat; segRest consumes zero or more values
func matchSegments(pat []segment, values []string) bool {
	for len(pat) > 0 {
		head := pat[0]
		if head.kind == segRest {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(values); i++ {
				if matchSegments(rest, values[i:]) {
					return true
				}
			}
			return false
		}
		if len(values) == 0 || !head.matchOne(values[0]) {
			return false
		}
		pat, values = pat[1:], values[1:]
	}
	return len(values) == 0
}

// globMatch matches s against a pattern where '*' stands for any run of characters
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[last])
}

func joinSegments(segs []segment, sep string) string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.String()
	}
	return strings.Join(out, sep)
}

// executionMatcher matches the full signature of a call site
type executionMatcher struct {
	returns *segment
	path    []segment
	args    []segment
	anyArgs bool
}

func (m *executionMatcher) Match(site *contracts.CallSite) bool {
	if m.returns != nil && m.returns.kind != segAny && m.returns.text != site.Returns {
		return false
	}
	if !matchSegments(m.path, site.Segments()) {
		return false
	}
	return m.anyArgs || matchSegments(m.args, site.ArgTypes())
}

func (m *executionMatcher) String() string {
	var b strings.Builder
	b.WriteString("execution(")
	if m.returns != nil {
		b.WriteString(m.returns.String())
		b.WriteByte(' ')
	}
	b.WriteString(pathString(m.path))
	if !m.anyArgs {
		b.WriteByte('(')
		b.WriteString(joinSegments(m.args, ", "))
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// pathString renders path segments back into dotted form with ".." kept compact
func pathString(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		if s.kind == segRest {
			b.WriteString("..")
			continue
		}
		if i > 0 && segs[i-1].kind != segRest {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// withinMatcher matches on the declaring type path only
type withinMatcher struct {
	path []segment
}

func (m *withinMatcher) Match(site *contracts.CallSite) bool {
	return matchSegments(m.path, site.TypeSegments())
}

func (m *withinMatcher) String() string {
	return "within(" + pathString(m.path) + ")"
}

type annotationMatcher struct {
	name string
}

func (m *annotationMatcher) Match(site *contracts.CallSite) bool {
	return site.HasAnnotation(m.name)
}

func (m *annotationMatcher) String() string {
	return "@annotation(" + m.name + ")"
}

// conditionMatcher evaluates a compiled expression against the call site
type conditionMatcher struct {
	source  string
	program *vm.Program
}

func (m *conditionMatcher) Match(site *contracts.CallSite) bool {
	out, err := expr.Run(m.program, Env(site))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (m *conditionMatcher) String() string {
	return "if(" + m.source + ")"
}

// Env builds the expression environment used by if() conditions
func Env(site *contracts.CallSite) map[string]any {
	args := make(map[string]any, len(site.Args))
	for _, a := range site.Args {
		if a.Name != "" {
			args[a.Name] = a.Value
		}
	}
	return map[string]any{
		"namespace":   site.Namespace,
		"type":        site.Type,
		"method":      site.Method,
		"path":        site.Path(),
		"args":        args,
		"argv":        site.Values(),
		"argc":        len(site.Args),
		"annotations": site.Annotations,
	}
}

type andMatcher struct {
	left, right Matcher
}

func (m *andMatcher) Match(site *contracts.CallSite) bool {
	return m.left.Match(site) && m.right.Match(site)
}

func (m *andMatcher) String() string {
	return "(" + m.left.String() + " && " + m.right.String() + ")"
}

type orMatcher struct {
	left, right Matcher
}

func (m *orMatcher) Match(site *contracts.CallSite) bool {
	return m.left.Match(site) || m.right.Match(site)
}

func (m *orMatcher) String() string {
	return "(" + m.left.String() + " || " + m.right.String() + ")"
}

type notMatcher struct {
	inner Matcher
}

func (m *notMatcher) Match(site *contracts.CallSite) bool {
	return !m.inner.Match(site)
}

func (m *notMatcher) String() string {
	return "!" + m.inner.String()
}

// namedMatcher is a reference to a pointcut defined under a name
type namedMatcher struct {
	name  string
	inner Matcher
}

func (m *namedMatcher) Match(site *contracts.CallSite) bool {
	return m.inner.Match(site)
}

func (m *namedMatcher) String() string {
	return m.name + "()"
}
