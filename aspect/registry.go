package aspect

import (
	"fmt"
	"log/slog"

	"github.com/glimte/weave-go/contracts"
	"github.com/glimte/weave-go/pointcut"
)

// Rule selects call sites with a pointcut and attaches advice bindings to them
type Rule struct {
	Name     string
	Pointcut string
	Bindings []Binding
}

// NewRule creates a rule from the bindings of the given advisors, in order
func NewRule(name, pattern string, advisors ...Advisor) Rule {
	rule := Rule{Name: name, Pointcut: pattern}
	for _, a := range advisors {
		rule.Bindings = append(rule.Bindings, a.Bindings()...)
	}
	return rule
}

type registeredRule struct {
	rule    Rule
	matcher pointcut.Matcher
}

// Registry holds intercept rules in registration order.
// Registration happens during setup; afterwards the registry is read-only and
// may be shared by concurrent invocations without locking.
type Registry struct {
	pointcuts *pointcut.Set
	rules     []registeredRule
	logger    *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		pointcuts: pointcut.NewSet(),
		logger:    logger,
	}
}

// DefinePointcut stores a named pointcut that rule patterns can reference as name()
func (r *Registry) DefinePointcut(name, pattern string) error {
	if err := r.pointcuts.Define(name, pattern); err != nil {
		return fmt.Errorf("define pointcut %q: %w", name, err)
	}
	r.logger.Debug("pointcut defined", "pointcut", name, "pattern", pattern)
	return nil
}

// Register appends a rule; it fails when the pattern or a binding is malformed
func (r *Registry) Register(rule Rule) error {
	rr, err := prepareRule(r.pointcuts, rule, len(r.rules)+1)
	if err != nil {
		return err
	}
	r.commit(r.pointcuts, []registeredRule{rr})
	return nil
}

// RegisterAll defines pointcuts and then registers rules as one unit. Rules may
// reference the new pointcuts. On error nothing is defined or registered.
func (r *Registry) RegisterAll(pointcuts []pointcut.Definition, rules []Rule) error {
	set := r.pointcuts.Clone()
	for _, d := range pointcuts {
		if err := set.Define(d.Name, d.Pattern); err != nil {
			return fmt.Errorf("define pointcut %q: %w", d.Name, err)
		}
	}

	prepared := make([]registeredRule, 0, len(rules))
	for i, rule := range rules {
		rr, err := prepareRule(set, rule, len(r.rules)+i+1)
		if err != nil {
			return err
		}
		prepared = append(prepared, rr)
	}

	for _, d := range pointcuts {
		r.logger.Debug("pointcut defined", "pointcut", d.Name, "pattern", d.Pattern)
	}
	r.commit(set, prepared)
	return nil
}

func prepareRule(set *pointcut.Set, rule Rule, seq int) (registeredRule, error) {
	if rule.Name == "" {
		rule.Name = fmt.Sprintf("rule-%d", seq)
	}

	matcher, err := set.Parse(rule.Pointcut)
	if err != nil {
		return registeredRule{}, fmt.Errorf("register rule %q: %w", rule.Name, err)
	}

	for _, b := range rule.Bindings {
		if err := b.Validate(); err != nil {
			return registeredRule{}, fmt.Errorf("register rule %q: %w", rule.Name, err)
		}
	}

	rule.Bindings = append([]Binding(nil), rule.Bindings...)
	return registeredRule{rule: rule, matcher: matcher}, nil
}

func (r *Registry) commit(set *pointcut.Set, rules []registeredRule) {
	r.pointcuts = set
	r.rules = append(r.rules, rules...)

	for _, rr := range rules {
		r.logger.Debug("rule registered",
			"rule", rr.rule.Name,
			"pointcut", rr.matcher.String(),
			"bindings", len(rr.rule.Bindings),
		)
	}
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(rule Rule) {
	if err := r.Register(rule); err != nil {
		panic(err)
	}
}

// Resolve returns the advice chain for a call site: bindings of matching rules
// in registration order, each rule's bindings in declaration order. It returns
// nil when no rule matches.
func (r *Registry) Resolve(site *contracts.CallSite) []Binding {
	var chain []Binding
	for _, rr := range r.rules {
		if rr.matcher.Match(site) {
			chain = append(chain, rr.rule.Bindings...)
		}
	}
	return chain
}

// Matching returns the names of the rules matching a call site, in registration order
func (r *Registry) Matching(site *contracts.CallSite) []string {
	var names []string
	for _, rr := range r.rules {
		if rr.matcher.Match(site) {
			names = append(names, rr.rule.Name)
		}
	}
	return names
}

// Rules returns copies of the registered rules
func (r *Registry) Rules() []Rule {
	rules := make([]Rule, len(r.rules))
	for i, rr := range r.rules {
		rule := rr.rule
		rule.Bindings = append([]Binding(nil), rule.Bindings...)
		rules[i] = rule
	}
	return rules
}

// Len returns the number of registered rules
func (r *Registry) Len() int {
	return len(r.rules)
}
