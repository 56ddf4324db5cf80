package pointcut

import (
	"fmt"
)

// Definition is a named pointcut pattern
type Definition struct {
	Name    string
	Pattern string
}

// Set holds named pointcuts that later patterns may reference as name().
// A Set is populated during setup and read concurrently afterwards.
type Set struct {
	named map[string]Matcher
	order []string
}

// NewSet creates an empty set of named pointcuts
func NewSet() *Set {
	return &Set{named: make(map[string]Matcher)}
}

// Define parses pattern and stores it under name
func (s *Set) Define(name, pattern string) error {
	if !isIdentifier(name) {
		return &InvalidPatternError{Pattern: pattern, Reason: fmt.Sprintf("invalid pointcut name %q", name)}
	}
	if _, exists := s.named[name]; exists {
		return &InvalidPatternError{Pattern: pattern, Reason: fmt.Sprintf("pointcut %q already defined", name)}
	}
	m, err := s.Parse(pattern)
	if err != nil {
		return err
	}
	s.named[name] = m
	s.order = append(s.order, name)
	return nil
}

// Clone returns a copy of the set; defining names on the copy leaves s unchanged
func (s *Set) Clone() *Set {
	named := make(map[string]Matcher, len(s.named))
	for name, m := range s.named {
		named[name] = m
	}
	return &Set{named: named, order: append([]string(nil), s.order...)}
}

// Lookup returns the pointcut defined under name
func (s *Set) Lookup(name string) (Matcher, bool) {
	m, ok := s.named[name]
	return m, ok
}

// Names returns the defined names in definition order
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Parse compiles pattern, resolving references against the set
func (s *Set) Parse(pattern string) (Matcher, error) {
	return ParseWith(pattern, s.Lookup)
}
