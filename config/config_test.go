package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/weave-go/aspect"
	"github.com/glimte/weave-go/contracts"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const demoRules = `
pointcuts:
  - name: demoApp
    pattern: "* xyz.demo.App.*(..)"
rules:
  - name: general
    pointcut: demoApp()
    advice:
      - name: logging
        kind: before
        options:
          level: debug
      - name: timing
  - name: require-name
    pointcut: "@annotation(RequireName)"
    advice:
      - name: requireArg
        options:
          arg: name
  - name: resilience
    pointcut: "xyz..*Service.*(..)"
    advice:
      - name: timeout
        options:
          timeout: 250ms
      - name: retry
        options:
          maxRetries: 2
          initialInterval: 1ms
      - name: recover
        options:
          fallback: guest
          errorContains: not found
`

func TestLoad(t *testing.T) {
	t.Run("parses rules", func(t *testing.T) {
		f, err := Load(strings.NewReader(demoRules))
		require.NoError(t, err)

		require.Len(t, f.Pointcuts, 1)
		assert.Equal(t, "demoApp", f.Pointcuts[0].Name)
		require.Len(t, f.Rules, 3)
		assert.Equal(t, "before", f.Rules[0].Advice[0].Kind)
		assert.Equal(t, "250ms", f.Rules[2].Advice[0].Options["timeout"])
	})

	t.Run("empty document", func(t *testing.T) {
		f, err := Load(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, f.Rules)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		_, err := Load(strings.NewReader("rulez: []\n"))
		assert.Error(t, err)
	})

	t.Run("rejects invalid entries", func(t *testing.T) {
		tests := map[string]string{
			"pointcut without pattern": "pointcuts:\n  - name: a\n",
			"rule without pointcut":    "rules:\n  - name: a\n",
			"advice without name":      "rules:\n  - pointcut: \"* a.*(..)\"\n    advice:\n      - kind: before\n",
			"unknown kind":             "rules:\n  - pointcut: \"* a.*(..)\"\n    advice:\n      - name: logging\n        kind: sometimes\n",
		}

		for name, doc := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := Load(strings.NewReader(doc))
				assert.ErrorIs(t, err, ErrInvalidFile)
			})
		}
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	load := func(t *testing.T) *aspect.Registry {
		t.Helper()
		f, err := Load(strings.NewReader(demoRules))
		require.NoError(t, err)

		registry := aspect.NewRegistry(quietLogger)
		require.NoError(t, f.Apply(registry, DefaultCatalog(quietLogger, nil)))
		return registry
	}

	t.Run("registers rules in file order", func(t *testing.T) {
		registry := load(t)
		assert.Equal(t, 3, registry.Len())

		site := contracts.NewCallSite("xyz.demo.App.hi", contracts.Arg{Name: "name", Type: "string", Value: ""}).
			WithAnnotations("RequireName")
		assert.Equal(t, []string{"general", "require-name"}, registry.Matching(&site))

		chain := registry.Resolve(&site)
		kinds := make([]aspect.Kind, len(chain))
		for i, b := range chain {
			kinds[i] = b.Kind
		}
		assert.Equal(t, []aspect.Kind{aspect.KindBefore, aspect.KindAround, aspect.KindAround}, kinds)
	})

	t.Run("configured advice runs", func(t *testing.T) {
		registry := load(t)
		invoker := aspect.NewInvoker(aspect.WithLogger(quietLogger))

		site := contracts.NewCallSite("xyz.demo.App.hi", contracts.Arg{Name: "name", Type: "string", Value: ""}).
			WithAnnotations("RequireName")
		result, err := invoker.Invoke(ctx, &site, func(ctx context.Context) (any, error) {
			return "Hello", nil
		}, registry.Resolve(&site))

		require.NoError(t, err)
		assert.Equal(t, aspect.Rejection{Status: http.StatusBadRequest, Message: "Name is required", Field: "name"}, result)

		service := contracts.NewCallSite("xyz.users.UserService.find", contracts.Arg{Name: "id", Type: "string", Value: "42"})
		attempts := 0
		result, err = invoker.Invoke(ctx, &service, func(ctx context.Context) (any, error) {
			attempts++
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil, errors.New("user not found")
		}, registry.Resolve(&service))

		require.NoError(t, err)
		assert.Equal(t, "guest", result)
		assert.Equal(t, 3, attempts)
	})

	t.Run("unknown advice", func(t *testing.T) {
		f, err := Load(strings.NewReader("rules:\n  - name: r\n    pointcut: \"* a.*(..)\"\n    advice:\n      - name: telepathy\n"))
		require.NoError(t, err)

		err = f.Apply(aspect.NewRegistry(quietLogger), DefaultCatalog(quietLogger, nil))
		assert.ErrorIs(t, err, ErrUnknownAdvice)
	})

	t.Run("kind filter without bindings", func(t *testing.T) {
		f, err := Load(strings.NewReader("rules:\n  - name: r\n    pointcut: \"* a.*(..)\"\n    advice:\n      - name: timing\n        kind: before\n"))
		require.NoError(t, err)

		err = f.Apply(aspect.NewRegistry(quietLogger), DefaultCatalog(quietLogger, nil))
		assert.Error(t, err)
	})

	t.Run("failed apply registers nothing", func(t *testing.T) {
		const doc = `
pointcuts:
  - name: p
    pattern: "within(a.*)"
rules:
  - name: ok
    pointcut: p()
    advice:
      - name: timing
  - name: bad
    pointcut: p()
    advice:
      - name: %s
`
		registry := aspect.NewRegistry(quietLogger)
		catalog := DefaultCatalog(quietLogger, nil)

		f, err := Load(strings.NewReader(fmt.Sprintf(doc, "nope")))
		require.NoError(t, err)
		assert.ErrorIs(t, f.Apply(registry, catalog), ErrUnknownAdvice)
		assert.Equal(t, 0, registry.Len())

		f, err = Load(strings.NewReader(fmt.Sprintf(doc, "logging")))
		require.NoError(t, err)
		require.NoError(t, f.Apply(registry, catalog))
		assert.Equal(t, 2, registry.Len())
	})

	t.Run("bad pattern", func(t *testing.T) {
		f, err := Load(strings.NewReader("rules:\n  - name: r\n    pointcut: \"execution(\"\n"))
		require.NoError(t, err)

		err = f.Apply(aspect.NewRegistry(quietLogger), NewCatalog())
		assert.ErrorIs(t, err, aspect.ErrInvalidPattern)
	})
}

func TestCatalog(t *testing.T) {
	t.Run("default names", func(t *testing.T) {
		c := DefaultCatalog(nil, nil)
		assert.Equal(t, []string{"circuitBreaker", "logging", "recover", "requireArg", "retry", "timeout", "timing"}, c.Names())
	})

	t.Run("option errors", func(t *testing.T) {
		c := DefaultCatalog(quietLogger, nil)
		tests := []struct {
			name    string
			options map[string]any
		}{
			{"requireArg", nil},
			{"timeout", map[string]any{"timeout": "soon"}},
			{"timeout", nil},
			{"logging", map[string]any{"level": "chatty"}},
			{"retry", map[string]any{"maxRetriez": 2}},
		}

		for _, tt := range tests {
			_, err := c.Build(tt.name, tt.options)
			assert.Error(t, err, tt.name)
		}
	})

	t.Run("tracks built breakers", func(t *testing.T) {
		c := DefaultCatalog(quietLogger, nil)
		assert.Empty(t, c.Breakers())

		_, err := c.Build("circuitBreaker", map[string]any{"name": "users"})
		require.NoError(t, err)
		_, err = c.Build("circuitBreaker", map[string]any{"name": "orders"})
		require.NoError(t, err)

		breakers := c.Breakers()
		require.Len(t, breakers, 2)
		assert.Equal(t, "users", breakers[0].Name())
		assert.Equal(t, "orders", breakers[1].Name())
	})

	t.Run("registered advisor", func(t *testing.T) {
		c := NewCatalog()
		advice := aspect.NewTimeoutAdvice(time.Second)
		c.RegisterAdvisor("slow", advice)

		built, err := c.Build("slow", nil)
		require.NoError(t, err)
		assert.Same(t, advice, built)
	})
}

func TestDecode(t *testing.T) {
	var opts CircuitBreakerOptions
	err := Decode(map[string]any{
		"name":             "users",
		"failureThreshold": "3",
		"timeout":          "2s",
	}, &opts)

	require.NoError(t, err)
	assert.Equal(t, "users", opts.Name)
	assert.Equal(t, 3, opts.FailureThreshold)
	assert.Equal(t, 2*time.Second, opts.Timeout)
}
