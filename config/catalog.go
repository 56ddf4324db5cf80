package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/glimte/weave-go/aspect"
	"github.com/glimte/weave-go/internal/reliability"
)

// ErrUnknownAdvice is returned when a rule references advice missing from the catalog
var ErrUnknownAdvice = errors.New("config: unknown advice")

// Factory builds an advisor from free-form options
type Factory func(options map[string]any) (aspect.Advisor, error)

// Catalog maps advice names used in rule files to factories
type Catalog struct {
	factories map[string]Factory
	breakers  []*reliability.CircuitBreaker
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory
func (c *Catalog) Register(name string, factory Factory) {
	c.factories[name] = factory
}

// RegisterAdvisor adds an advisor that ignores options
func (c *Catalog) RegisterAdvisor(name string, advisor aspect.Advisor) {
	c.Register(name, func(map[string]any) (aspect.Advisor, error) {
		return advisor, nil
	})
}

// Names returns the registered advice names, sorted
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Breakers returns the circuit breakers built by the circuitBreaker advice, in build order
func (c *Catalog) Breakers() []*reliability.CircuitBreaker {
	return append([]*reliability.CircuitBreaker(nil), c.breakers...)
}

// Build creates the advisor registered under name
func (c *Catalog) Build(name string, options map[string]any) (aspect.Advisor, error) {
	factory, ok := c.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAdvice, name)
	}

	advisor, err := factory(options)
	if err != nil {
		return nil, fmt.Errorf("advice %q: %w", name, err)
	}
	return advisor, nil
}

// Decode decodes free-form options into out. Durations may be given as strings
// such as "250ms"; unknown keys are rejected.
func Decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}

// LoggingOptions configure the logging advice
type LoggingOptions struct {
	Level string `mapstructure:"level"`
}

// RequireArgOptions configure the requireArg advice
type RequireArgOptions struct {
	Arg     string `mapstructure:"arg"`
	Status  int    `mapstructure:"status"`
	Message string `mapstructure:"message"`
}

// TimeoutOptions configure the timeout advice
type TimeoutOptions struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryOptions configure the retry advice. A zero Multiplier selects a fixed delay.
type RetryOptions struct {
	MaxRetries      int           `mapstructure:"maxRetries"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// CircuitBreakerOptions configure the circuitBreaker advice
type CircuitBreakerOptions struct {
	Name             string        `mapstructure:"name"`
	FailureThreshold int           `mapstructure:"failureThreshold"`
	SuccessThreshold int           `mapstructure:"successThreshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HalfOpenRequests int           `mapstructure:"halfOpenRequests"`
}

// RecoverOptions configure the recover advice. When ErrorContains is set only
// failures whose message contains it are recovered.
type RecoverOptions struct {
	Fallback      any    `mapstructure:"fallback"`
	ErrorContains string `mapstructure:"errorContains"`
}

// DefaultCatalog registers the built-in advice: logging, timing, requireArg,
// timeout, retry, circuitBreaker and recover
func DefaultCatalog(logger *slog.Logger, collector aspect.MetricsCollector) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	c := NewCatalog()

	c.Register("logging", func(options map[string]any) (aspect.Advisor, error) {
		var opts LoggingOptions
		if err := Decode(options, &opts); err != nil {
			return nil, err
		}
		advice := aspect.NewLoggingAdvice(logger)
		if opts.Level != "" {
			var level slog.Level
			if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
				return nil, err
			}
			advice.WithLevel(level)
		}
		return advice, nil
	})

	c.Register("timing", func(options map[string]any) (aspect.Advisor, error) {
		if err := Decode(options, &struct{}{}); err != nil {
			return nil, err
		}
		return aspect.NewTimingAdvice(logger, collector), nil
	})

	c.Register("requireArg", func(options map[string]any) (aspect.Advisor, error) {
		var opts RequireArgOptions
		if err := Decode(options, &opts); err != nil {
			return nil, err
		}
		if opts.Arg == "" {
			return nil, errors.New("option arg is required")
		}
		advice := aspect.NewRequireArgAdvice(opts.Arg)
		if opts.Status != 0 {
			advice.WithStatus(opts.Status)
		}
		if opts.Message != "" {
			advice.WithMessage(opts.Message)
		}
		return advice, nil
	})

	c.Register("timeout", func(options map[string]any) (aspect.Advisor, error) {
		var opts TimeoutOptions
		if err := Decode(options, &opts); err != nil {
			return nil, err
		}
		if opts.Timeout <= 0 {
			return nil, errors.New("option timeout must be positive")
		}
		return aspect.NewTimeoutAdvice(opts.Timeout), nil
	})

	c.Register("retry", func(options map[string]any) (aspect.Advisor, error) {
		opts := RetryOptions{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}
		if err := Decode(options, &opts); err != nil {
			return nil, err
		}

		var policy reliability.RetryPolicy = reliability.NewFixedDelay(opts.InitialInterval, opts.MaxRetries)
		if opts.Multiplier > 0 {
			policy = reliability.NewExponentialBackoff(opts.InitialInterval, opts.MaxInterval, opts.Multiplier, opts.MaxRetries)
		}
		return aspect.NewRetryAdvice(policy, logger), nil
	})

	c.Register("circuitBreaker", func(options map[string]any) (aspect.Advisor, error) {
		var opts CircuitBreakerOptions
		if err := Decode(options, &opts); err != nil {
			return nil, err
		}

		var cbOpts []reliability.CircuitBreakerOption
		if opts.Name != "" {
			cbOpts = append(cbOpts, reliability.WithName(opts.Name))
		}
		if opts.FailureThreshold > 0 {
			cbOpts = append(cbOpts, reliability.WithFailureThreshold(opts.FailureThreshold))
		}
		if opts.SuccessThreshold > 0 {
			cbOpts = append(cbOpts, reliability.WithSuccessThreshold(opts.SuccessThreshold))
		}
		if opts.Timeout > 0 {
			cbOpts = append(cbOpts, reliability.WithTimeout(opts.Timeout))
		}
		if opts.HalfOpenRequests > 0 {
			cbOpts = append(cbOpts, reliability.WithHalfOpenRequests(opts.HalfOpenRequests))
		}
		advice := aspect.NewCircuitBreakerAdvice(cbOpts...)
		c.breakers = append(c.breakers, advice.Breaker())
		return advice, nil
	})

	c.Register("recover", func(options map[string]any) (aspect.Advisor, error) {
		var opts RecoverOptions
		if err := Decode(options, &opts); err != nil {
			return nil, err
		}

		var match func(error) bool
		if opts.ErrorContains != "" {
			match = func(err error) bool {
				return strings.Contains(err.Error(), opts.ErrorContains)
			}
		}
		return aspect.NewRecoverAdvice(opts.Fallback, match), nil
	})

	return c
}
