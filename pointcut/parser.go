package pointcut

import (
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
)

const (
	designatorExecution  = "execution("
	designatorWithin     = "within("
	designatorAnnotation = "@annotation("
	designatorIf         = "if("
)

// Lookup resolves a named pointcut reference
type Lookup func(name string) (Matcher, bool)

// Parse compiles a pointcut pattern without named references
func Parse(pattern string) (Matcher, error) {
	return ParseWith(pattern, nil)
}

// MustParse is like Parse but panics on error
func MustParse(pattern string) Matcher {
	m, err := Parse(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseWith compiles a pointcut pattern, resolving name() references with lookup
func ParseWith(pattern string, lookup Lookup) (Matcher, error) {
	p := &parser{src: pattern, lookup: lookup}
	p.skipSpace()
	if p.eof() {
		return nil, p.fail(0, "empty pattern")
	}
	m, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.fail(p.pos, "unexpected "+quoteRune(p.peek()))
	}
	return m, nil
}

type parser struct {
	src    string
	pos    int
	lookup Lookup
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	return p.src[p.pos]
}

func (p *parser) rest() string {
	return p.src[p.pos:]
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) fail(pos int, reason string) *InvalidPatternError {
	return &InvalidPatternError{Pattern: p.src, Pos: pos, Reason: reason}
}

func (p *parser) parseOr() (Matcher, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if !strings.HasPrefix(p.rest(), "||") {
			return left, nil
		}
		p.pos += 2
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orMatcher{left: left, right: right}
	}
}

func (p *parser) parseAnd() (Matcher, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if !strings.HasPrefix(p.rest(), "&&") {
			return left, nil
		}
		p.pos += 2
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andMatcher{left: left, right: right}
	}
}

func (p *parser) parseUnary() (Matcher, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.fail(p.pos, "expected pointcut expression")
	}
	if p.peek() == '!' {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notMatcher{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Matcher, error) {
	start := p.pos
	rest := p.rest()
	switch {
	case rest[0] == '(':
		p.pos++
		m, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.eof() || p.peek() != ')' {
			return nil, p.fail(start, "unclosed '('")
		}
		p.pos++
		return m, nil

	case strings.HasPrefix(rest, designatorExecution):
		inner, offset, err := p.designatorBody(len(designatorExecution))
		if err != nil {
			return nil, err
		}
		return p.parseSignature(inner, offset)

	case strings.HasPrefix(rest, designatorWithin):
		inner, offset, err := p.designatorBody(len(designatorWithin))
		if err != nil {
			return nil, err
		}
		path, err := p.parsePath(strings.TrimSpace(inner), offset)
		if err != nil {
			return nil, err
		}
		return &withinMatcher{path: path}, nil

	case strings.HasPrefix(rest, designatorAnnotation):
		inner, offset, err := p.designatorBody(len(designatorAnnotation))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(inner)
		if !isIdentifier(name) {
			return nil, p.fail(offset, "annotation name must be an identifier")
		}
		return &annotationMatcher{name: name}, nil

	case strings.HasPrefix(rest, designatorIf):
		inner, offset, err := p.designatorBody(len(designatorIf))
		if err != nil {
			return nil, err
		}
		source := strings.TrimSpace(inner)
		if source == "" {
			return nil, p.fail(offset, "empty condition")
		}
		program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			e := p.fail(offset, "condition does not compile")
			e.Err = err
			return nil, e
		}
		return &conditionMatcher{source: source, program: program}, nil
	}

	if kw, ok := spacedDesignator(rest); ok {
		return nil, p.fail(start, "unexpected space after "+quote(kw))
	}

	if m, ok := p.namedReference(); ok {
		return m, nil
	}

	body := p.scanSignature()
	if strings.TrimSpace(body) == "" {
		return nil, p.fail(start, "expected pointcut expression")
	}
	return p.parseSignature(body, start)
}

// namedReference consumes "name()" when name is a defined pointcut
func (p *parser) namedReference() (Matcher, bool) {
	if p.lookup == nil {
		return nil, false
	}
	rest := p.rest()
	i := 0
	for i < len(rest) && isIdentByte(rest[i]) {
		i++
	}
	if i == 0 || !strings.HasPrefix(rest[i:], "()") {
		return nil, false
	}
	name := rest[:i]
	m, ok := p.lookup(name)
	if !ok {
		return nil, false
	}
	p.pos += i + 2
	return &namedMatcher{name: name, inner: m}, true
}

// spacedDesignator reports a designator keyword separated from its '(' by whitespace
func spacedDesignator(rest string) (string, bool) {
	for _, d := range []string{designatorExecution, designatorWithin, designatorAnnotation, designatorIf} {
		kw := strings.TrimSuffix(d, "(")
		if !strings.HasPrefix(rest, kw) {
			continue
		}
		after := rest[len(kw):]
		trimmed := strings.TrimLeftFunc(after, unicode.IsSpace)
		if len(trimmed) < len(after) && strings.HasPrefix(trimmed, "(") {
			return kw, true
		}
	}
	return "", false
}

// designatorBody consumes "kw( ... )" and returns the text between the parentheses
func (p *parser) designatorBody(prefix int) (string, int, error) {
	start := p.pos
	open := p.pos + prefix - 1
	end, ok := matchingParen(p.src, open)
	if !ok {
		return "", 0, p.fail(start, "unclosed designator")
	}
	p.pos = end + 1
	return p.src[open+1 : end], open + 1, nil
}

// scanSignature consumes a bare signature up to a top-level operator or closing group
func (p *parser) scanSignature() string {
	start := p.pos
	depth := 0
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				return p.src[start:p.pos]
			}
			depth--
		case depth == 0 && (strings.HasPrefix(p.rest(), "&&") || strings.HasPrefix(p.rest(), "||")):
			return p.src[start:p.pos]
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

// parseSignature parses "[ret ]path[(args)]"; offset is the position of sig in the source
func (p *parser) parseSignature(sig string, offset int) (Matcher, error) {
	lead := len(sig) - len(strings.TrimLeftFunc(sig, unicode.IsSpace))
	sig = strings.TrimSpace(sig)
	offset += lead
	if sig == "" {
		return nil, p.fail(offset, "empty signature")
	}

	m := &executionMatcher{anyArgs: true}

	head := sig
	if i := strings.IndexByte(sig, '('); i >= 0 {
		head = sig[:i]
	}
	if fields := strings.Fields(head); len(fields) > 1 {
		if len(fields) > 2 {
			return nil, p.fail(offset, "unexpected token "+quote(fields[1]))
		}
		ret := fields[0]
		if ret == "*" {
			m.returns = &segment{kind: segAny}
		} else {
			m.returns = &segment{kind: segExact, text: ret}
		}
		cut := strings.Index(sig, ret) + len(ret)
		trimmed := strings.TrimLeftFunc(sig[cut:], unicode.IsSpace)
		offset += len(sig) - len(trimmed)
		sig = trimmed
	}

	pathText := sig
	if i := strings.IndexByte(sig, '('); i >= 0 {
		pathText = sig[:i]
		end, ok := matchingParen(sig, i)
		if !ok {
			return nil, p.fail(offset+i, "unclosed argument list")
		}
		if end != len(sig)-1 {
			return nil, p.fail(offset+end+1, "unexpected text after argument list")
		}
		args, err := p.parseArgs(sig[i+1:end], offset+i+1)
		if err != nil {
			return nil, err
		}
		m.args = args
		m.anyArgs = false
		if len(args) == 1 && args[0].kind == segRest {
			m.anyArgs = true
		}
	}

	path, err := p.parsePath(strings.TrimSpace(pathText), offset)
	if err != nil {
		return nil, err
	}
	m.path = path
	return m, nil
}

// parsePath splits a dotted pattern into segments; ".." becomes a rest segment
func (p *parser) parsePath(text string, offset int) ([]segment, error) {
	if text == "" {
		return nil, p.fail(offset, "empty path")
	}
	var segs []segment
	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], "..") {
			if len(segs) > 0 && segs[len(segs)-1].kind == segRest {
				return nil, p.fail(offset+i, "repeated '..'")
			}
			segs = append(segs, segment{kind: segRest})
			i += 2
			if i < len(text) && text[i] == '.' {
				return nil, p.fail(offset+i, "unexpected '.'")
			}
			continue
		}
		if text[i] == '.' {
			if len(segs) == 0 || segs[len(segs)-1].kind == segRest || i+1 >= len(text) {
				return nil, p.fail(offset+i, "empty path segment")
			}
			i++
			continue
		}
		j := i
		for j < len(text) && text[j] != '.' {
			if !isSegmentByte(text[j]) {
				return nil, p.fail(offset+j, "invalid character "+quoteRune(text[j]))
			}
			j++
		}
		segs = append(segs, newSegment(text[i:j]))
		i = j
	}
	return segs, nil
}

// parseArgs parses a comma-separated argument type list
func (p *parser) parseArgs(text string, offset int) ([]segment, error) {
	if strings.TrimSpace(text) == "" {
		return []segment{}, nil
	}
	var segs []segment
	pos := offset
	for _, raw := range strings.Split(text, ",") {
		item := strings.TrimSpace(raw)
		switch item {
		case "":
			return nil, p.fail(pos, "empty argument type")
		case "*":
			segs = append(segs, segment{kind: segAny})
		case "..":
			segs = append(segs, segment{kind: segRest})
		default:
			if strings.ContainsAny(item, " \t\r\n()") {
				return nil, p.fail(pos, "invalid argument type "+quote(item))
			}
			segs = append(segs, segment{kind: segExact, text: item})
		}
		pos += len(raw) + 1
	}
	return segs, nil
}

func newSegment(text string) segment {
	switch {
	case text == "*":
		return segment{kind: segAny}
	case strings.Contains(text, "*"):
		return segment{kind: segGlob, text: text}
	default:
		return segment{kind: segExact, text: text}
	}
}

// matchingParen returns the index of the ')' closing the '(' at open, honoring quotes
func matchingParen(s string, open int) (int, bool) {
	depth := 0
	var quoteChar byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quoteChar != 0 {
			if c == '\\' && quoteChar != '`' {
				i++
				continue
			}
			if c == quoteChar {
				quoteChar = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quoteChar = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSegmentByte(c byte) bool {
	return isIdentByte(c) || c == '*' || c == '/' || c == '-'
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) && s[i] != '.' {
			return false
		}
	}
	return true
}

func quote(s string) string {
	return "'" + s + "'"
}

func quoteRune(c byte) string {
	return quote(string(c))
}
