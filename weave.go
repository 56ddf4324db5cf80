// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package weave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/glimte/weave-go/aspect"
	"github.com/glimte/weave-go/config"
	"github.com/glimte/weave-go/contracts"
	"github.com/glimte/weave-go/metrics"
)

// ErrResultType is matched by errors returned from Call when the result has an unexpected type
var ErrResultType = errors.New("weave: unexpected result type")

// Weaver provides the main entry point for weave-go: it resolves the rules
// matching a call site and runs their advice around the call
type Weaver struct {
	registry  *aspect.Registry
	invoker   *aspect.Invoker
	catalog   *config.Catalog
	collector aspect.MetricsCollector
	logger    *slog.Logger
}

// New creates a new weaver with an empty registry and the built-in advice catalog
func New(options ...Option) *Weaver {
	cfg := &weaverConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.collector == nil {
		cfg.collector = metrics.NewSimpleCollector()
	}

	invokerOpts := []aspect.InvokerOption{aspect.WithLogger(cfg.logger)}
	if cfg.reporter != nil {
		invokerOpts = append(invokerOpts, aspect.WithErrorReporter(cfg.reporter))
	}
	for _, l := range cfg.listeners {
		invokerOpts = append(invokerOpts, aspect.WithStateListener(l))
	}

	return &Weaver{
		registry:  aspect.NewRegistry(cfg.logger),
		invoker:   aspect.NewInvoker(invokerOpts...),
		catalog:   config.DefaultCatalog(cfg.logger, cfg.collector),
		collector: cfg.collector,
		logger:    cfg.logger,
	}
}

// Register appends a rule to the registry
func (w *Weaver) Register(rule aspect.Rule) error {
	return w.registry.Register(rule)
}

// Intercept registers a rule built from the bindings of advisors
func (w *Weaver) Intercept(name, pattern string, advisors ...aspect.Advisor) error {
	return w.registry.Register(aspect.NewRule(name, pattern, advisors...))
}

// DefinePointcut stores a named pointcut that patterns can reference as name()
func (w *Weaver) DefinePointcut(name, pattern string) error {
	return w.registry.DefinePointcut(name, pattern)
}

// Resolve returns the advice chain for a call site
func (w *Weaver) Resolve(site *contracts.CallSite) []aspect.Binding {
	return w.registry.Resolve(site)
}

// Call resolves the advice chain for site and invokes target through it
func (w *Weaver) Call(ctx context.Context, site contracts.CallSite, target aspect.Target) (any, error) {
	return w.invoker.Invoke(ctx, &site, target, w.registry.Resolve(&site))
}

// LoadRules reads a YAML rule file and applies it using the weaver's catalog
func (w *Weaver) LoadRules(r io.Reader) error {
	f, err := config.Load(r)
	if err != nil {
		return err
	}
	return w.ApplyRules(f)
}

// ApplyRules registers the pointcuts and rules of an already loaded file
func (w *Weaver) ApplyRules(f *config.File) error {
	if err := f.Apply(w.registry, w.catalog); err != nil {
		return fmt.Errorf("failed to apply rules: %w", err)
	}
	w.logger.Info("rules loaded", "pointcuts", len(f.Pointcuts), "rules", len(f.Rules))
	return nil
}

// Catalog returns the advice catalog used by LoadRules
func (w *Weaver) Catalog() *config.Catalog {
	return w.catalog
}

// Registry returns the underlying registry
func (w *Weaver) Registry() *aspect.Registry {
	return w.registry
}

// Metrics returns the collector fed by the timing advice
func (w *Weaver) Metrics() aspect.MetricsCollector {
	return w.collector
}

// ResultTypeError is returned by Call when advice replaced the result with a
// value of another type, such as an aspect.Rejection
type ResultTypeError struct {
	Result any
	Want   string
}

func (e *ResultTypeError) Error() string {
	return fmt.Sprintf("%v: got %T, want %s", ErrResultType, e.Result, e.Want)
}

// Is reports whether target is ErrResultType
func (e *ResultTypeError) Is(target error) bool {
	return target == ErrResultType
}

// Call invokes a typed target through w and converts the result back to T.
// A nil result yields the zero T.
func Call[T any](ctx context.Context, w *Weaver, site contracts.CallSite, target func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := w.Call(ctx, site, func(ctx context.Context) (any, error) {
		return target(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, &ResultTypeError{Result: result, Want: fmt.Sprintf("%T", zero)}
	}
	return typed, nil
}

// weaverConfig holds weaver configuration
type weaverConfig struct {
	logger    *slog.Logger
	reporter  aspect.ErrorReporter
	listeners []aspect.StateListener
	collector aspect.MetricsCollector
}

// Option configures the weaver
type Option func(*weaverConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *weaverConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() Option {
	return func(cfg *weaverConfig) {
		cfg.logger = slog.Default()
	}
}

// WithErrorReporter sets the side channel for after-stage advice failures
func WithErrorReporter(reporter aspect.ErrorReporter) Option {
	return func(cfg *weaverConfig) {
		cfg.reporter = reporter
	}
}

// WithStateListener adds a listener for invocation state transitions
func WithStateListener(listener aspect.StateListener) Option {
	return func(cfg *weaverConfig) {
		cfg.listeners = append(cfg.listeners, listener)
	}
}

// WithMetricsCollector sets the collector fed by the timing advice
func WithMetricsCollector(collector aspect.MetricsCollector) Option {
	return func(cfg *weaverConfig) {
		cfg.collector = collector
	}
}
