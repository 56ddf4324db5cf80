package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/glimte/weave-go/aspect"
	"github.com/glimte/weave-go/pointcut"
)

// ErrInvalidFile is returned when a rule file is structurally invalid
var ErrInvalidFile = errors.New("config: invalid rule file")

// Target receives the pointcuts and rules of a file as one unit; *aspect.Registry implements it
type Target interface {
	RegisterAll(pointcuts []pointcut.Definition, rules []aspect.Rule) error
}

// File is a declarative set of named pointcuts and rules
type File struct {
	Pointcuts []PointcutSpec `yaml:"pointcuts"`
	Rules     []RuleSpec     `yaml:"rules"`
}

// PointcutSpec defines a named pointcut
type PointcutSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// RuleSpec attaches catalog advice to a pointcut
type RuleSpec struct {
	Name     string       `yaml:"name"`
	Pointcut string       `yaml:"pointcut"`
	Advice   []AdviceSpec `yaml:"advice"`
}

// AdviceSpec references catalog advice by name. Kind optionally keeps only the
// bindings of that kind; Options are decoded into the advice's option struct.
type AdviceSpec struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// Load reads a YAML rule file
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode rule file: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads a YAML rule file from disk
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule file: %w", err)
	}
	defer fh.Close()

	return Load(fh)
}

// Validate checks that every entry names what it needs
func (f *File) Validate() error {
	for i, p := range f.Pointcuts {
		if p.Name == "" || p.Pattern == "" {
			return fmt.Errorf("%w: pointcut %d needs a name and a pattern", ErrInvalidFile, i+1)
		}
	}
	for i, r := range f.Rules {
		if r.Pointcut == "" {
			return fmt.Errorf("%w: rule %d has no pointcut", ErrInvalidFile, i+1)
		}
		for j, a := range r.Advice {
			if a.Name == "" {
				return fmt.Errorf("%w: rule %d advice %d has no name", ErrInvalidFile, i+1, j+1)
			}
			if a.Kind != "" {
				if _, err := aspect.ParseKind(a.Kind); err != nil {
					return fmt.Errorf("%w: rule %d advice %q: %v", ErrInvalidFile, i+1, a.Name, err)
				}
			}
		}
	}
	return nil
}

// Apply defines the pointcuts and registers the rules on target, in file order.
// Every rule is built before target is touched, so a failed Apply leaves
// target unchanged.
func (f *File) Apply(target Target, catalog *Catalog) error {
	if err := f.Validate(); err != nil {
		return err
	}

	defs := make([]pointcut.Definition, len(f.Pointcuts))
	for i, p := range f.Pointcuts {
		defs[i] = pointcut.Definition{Name: p.Name, Pattern: p.Pattern}
	}

	rules := make([]aspect.Rule, 0, len(f.Rules))
	for _, spec := range f.Rules {
		rule, err := spec.build(catalog)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}

	return target.RegisterAll(defs, rules)
}

func (s RuleSpec) build(catalog *Catalog) (aspect.Rule, error) {
	rule := aspect.Rule{Name: s.Name, Pointcut: s.Pointcut}

	for _, a := range s.Advice {
		advisor, err := catalog.Build(a.Name, a.Options)
		if err != nil {
			return aspect.Rule{}, fmt.Errorf("rule %q: %w", s.Name, err)
		}

		bindings := advisor.Bindings()
		if a.Kind != "" {
			kind, _ := aspect.ParseKind(a.Kind)
			bindings = filterKind(bindings, kind)
			if len(bindings) == 0 {
				return aspect.Rule{}, fmt.Errorf("rule %q: advice %q has no %s binding", s.Name, a.Name, kind)
			}
		}
		rule.Bindings = append(rule.Bindings, bindings...)
	}
	return rule, nil
}

func filterKind(bindings []aspect.Binding, kind aspect.Kind) []aspect.Binding {
	var out []aspect.Binding
	for _, b := range bindings {
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	return out
}
