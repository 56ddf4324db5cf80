package aspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/weave-go/contracts"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// trace records the order in which advice and targets run
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) add(step string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.steps = append(tr.steps, step)
}

func (tr *trace) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.steps...)
}

func helloSite(name string) *contracts.CallSite {
	site := contracts.NewCallSite("xyz.demo.App.hi", contracts.Arg{Name: "name", Type: "string", Value: name})
	return &site
}

func tracingChain(tr *trace) []Binding {
	return []Binding{
		Before("b", func(ctx context.Context, inv *Invocation) error {
			tr.add("B")
			return nil
		}),
		Around("ar", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
			tr.add("AR1")
			result, err := proceed(ctx)
			tr.add("AR2")
			return result, err
		}),
		After("a", func(ctx context.Context, inv *Invocation) error {
			tr.add("A")
			return nil
		}),
		OnSuccess("s", func(ctx context.Context, inv *Invocation, result any) {
			tr.add(fmt.Sprintf("afterSuccess(%v)", result))
		}),
		OnFailure("f", func(ctx context.Context, inv *Invocation, cause error) {
			tr.add(fmt.Sprintf("afterFailure(%v)", cause))
		}),
	}
}

func newTestInvoker(options ...InvokerOption) *Invoker {
	return NewInvoker(append([]InvokerOption{WithLogger(quietLogger)}, options...)...)
}

func TestInvoke_Ordering(t *testing.T) {
	ctx := context.Background()

	t.Run("successful target", func(t *testing.T) {
		tr := &trace{}
		result, err := newTestInvoker().Invoke(ctx, helloSite("John"), func(ctx context.Context) (any, error) {
			tr.add("target")
			return "John", nil
		}, tracingChain(tr))

		require.NoError(t, err)
		assert.Equal(t, "John", result)
		assert.Equal(t, []string{"B", "AR1", "target", "AR2", "A", "afterSuccess(John)"}, tr.get())
	})

	t.Run("failing target", func(t *testing.T) {
		tr := &trace{}
		boom := errors.New("boom")
		result, err := newTestInvoker().Invoke(ctx, helloSite("John"), func(ctx context.Context) (any, error) {
			tr.add("target")
			return nil, boom
		}, tracingChain(tr))

		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, boom)
		assert.False(t, IsAdviceError(err))
		assert.Equal(t, []string{"B", "AR1", "target", "AR2", "A", "afterFailure(boom)"}, tr.get())

		var opErr *OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "xyz.demo.App.hi", opErr.Site.Path())
		assert.NotEmpty(t, opErr.InvocationID)
		assert.Equal(t, boom, Cause(err))
	})

	t.Run("arounds nest first outermost", func(t *testing.T) {
		tr := &trace{}
		layer := func(name string) Binding {
			return Around(name, func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				tr.add(name + ">")
				result, err := proceed(ctx)
				tr.add("<" + name)
				return result, err
			})
		}

		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			tr.add("target")
			return nil, nil
		}, []Binding{layer("outer"), layer("middle"), layer("inner")})

		require.NoError(t, err)
		assert.Equal(t, []string{"outer>", "middle>", "inner>", "target", "<inner", "<middle", "<outer"}, tr.get())
	})

	t.Run("empty chain is a plain call", func(t *testing.T) {
		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return 42, nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, 42, result)
	})
}

func TestInvoke_Before(t *testing.T) {
	ctx := context.Background()
	tr := &trace{}
	denied := errors.New("denied")

	chain := append([]Binding{
		Before("guard", func(ctx context.Context, inv *Invocation) error {
			tr.add("guard")
			return denied
		}),
		Before("second", func(ctx context.Context, inv *Invocation) error {
			tr.add("second")
			return nil
		}),
	}, tracingChain(tr)...)

	result, err := newTestInvoker().Invoke(ctx, helloSite("John"), func(ctx context.Context) (any, error) {
		tr.add("target")
		return "John", nil
	}, chain)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, []string{"guard"}, tr.get())

	var adviceErr *AdviceError
	require.ErrorAs(t, err, &adviceErr)
	assert.Equal(t, KindBefore, adviceErr.Kind)
	assert.Equal(t, "guard", adviceErr.Advice)
}

func TestInvoke_Around(t *testing.T) {
	ctx := context.Background()

	t.Run("short-circuit skips target and inner layers", func(t *testing.T) {
		tr := &trace{}
		chain := []Binding{
			Around("cache", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				return "cached", nil
			}),
			Around("inner", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				tr.add("inner")
				return proceed(ctx)
			}),
			After("a", func(ctx context.Context, inv *Invocation) error {
				tr.add("A")
				return nil
			}),
		}

		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			tr.add("target")
			return "fresh", nil
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, "cached", result)
		assert.Equal(t, []string{"A"}, tr.get())
	})

	t.Run("own failure is an advice error", func(t *testing.T) {
		bad := errors.New("around broke")
		chain := []Binding{
			Around("broken", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				if _, err := proceed(ctx); err != nil {
					return nil, err
				}
				return nil, bad
			}),
		}

		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return "ok", nil
		}, chain)

		var adviceErr *AdviceError
		require.ErrorAs(t, err, &adviceErr)
		assert.Equal(t, KindAround, adviceErr.Kind)
		assert.ErrorIs(t, err, bad)
	})

	t.Run("propagated target failure is not an advice error", func(t *testing.T) {
		boom := errors.New("boom")
		chain := []Binding{
			Around("wrap", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				_, err := proceed(ctx)
				return nil, fmt.Errorf("wrapped: %w", err)
			}),
		}

		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return nil, boom
		}, chain)

		assert.ErrorIs(t, err, boom)
		assert.False(t, IsAdviceError(err))
	})

	t.Run("recovering around turns failure into success", func(t *testing.T) {
		tr := &trace{}
		chain := append([]Binding{
			Around("fallback", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				if _, err := proceed(ctx); err != nil {
					return "fallback", nil
				}
				return "unexpected", nil
			}),
		}, tracingChain(tr)...)

		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, "fallback", result)
		assert.Contains(t, tr.get(), "afterSuccess(fallback)")
	})

	t.Run("proceed may run the target more than once", func(t *testing.T) {
		calls := 0
		chain := []Binding{
			Around("twice", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				if _, err := proceed(ctx); err != nil {
					return nil, err
				}
				return proceed(ctx)
			}),
		}

		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			calls++
			return calls, nil
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, 2, result)
		assert.Equal(t, 2, calls)
	})

	t.Run("failure discards partial result", func(t *testing.T) {
		chain := []Binding{
			Around("partial", func(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
				return "partial", errors.New("half done")
			}),
		}

		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return "ok", nil
		}, chain)

		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestInvoke_AfterStage(t *testing.T) {
	ctx := context.Background()

	t.Run("after errors are reported, not raised", func(t *testing.T) {
		var reported []error
		reporter := ErrorReporterFunc(func(ctx context.Context, inv *Invocation, err error) {
			reported = append(reported, err)
		})
		tr := &trace{}
		chain := []Binding{
			After("first", func(ctx context.Context, inv *Invocation) error {
				return errors.New("after one")
			}),
			After("second", func(ctx context.Context, inv *Invocation) error {
				tr.add("second")
				panic("after two")
			}),
			After("third", func(ctx context.Context, inv *Invocation) error {
				tr.add("third")
				return nil
			}),
		}

		result, err := newTestInvoker(WithErrorReporter(reporter)).Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return "ok", nil
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, []string{"second", "third"}, tr.get())
		require.Len(t, reported, 2)

		var adviceErr *AdviceError
		require.ErrorAs(t, reported[0], &adviceErr)
		assert.Equal(t, KindAfter, adviceErr.Kind)

		var panicErr *PanicError
		require.ErrorAs(t, reported[1], &panicErr)
		assert.Equal(t, "after two", panicErr.Value)
	})

	t.Run("after errors do not mask the target failure", func(t *testing.T) {
		boom := errors.New("boom")
		chain := []Binding{
			After("noisy", func(ctx context.Context, inv *Invocation) error {
				return errors.New("after failed")
			}),
		}

		_, err := newTestInvoker(WithErrorReporter(ErrorReporterFunc(func(context.Context, *Invocation, error) {}))).
			Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
				return nil, boom
			}, chain)

		assert.Equal(t, boom, Cause(err))
	})

	t.Run("afterSuccess replaces the result in order", func(t *testing.T) {
		chain := []Binding{
			AfterSuccess("greet", func(ctx context.Context, inv *Invocation, result any) (any, error) {
				return "Hello " + result.(string), nil
			}),
			AfterSuccess("shout", func(ctx context.Context, inv *Invocation, result any) (any, error) {
				return result.(string) + "!", nil
			}),
		}

		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return "John", nil
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, "Hello John!", result)
	})

	t.Run("failing afterSuccess keeps the previous result", func(t *testing.T) {
		var reported int
		chain := []Binding{
			AfterSuccess("broken", func(ctx context.Context, inv *Invocation, result any) (any, error) {
				return nil, errors.New("cannot transform")
			}),
		}

		result, err := newTestInvoker(WithErrorReporter(ErrorReporterFunc(func(context.Context, *Invocation, error) {
			reported++
		}))).Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return "John", nil
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, "John", result)
		assert.Equal(t, 1, reported)
	})

	t.Run("afterFailure replaces the error for later bindings", func(t *testing.T) {
		replaced := errors.New("replaced")
		var seen error
		chain := []Binding{
			AfterFailure("translate", func(ctx context.Context, inv *Invocation, cause error) (any, error) {
				return nil, replaced
			}),
			OnFailure("observe", func(ctx context.Context, inv *Invocation, cause error) {
				seen = cause
			}),
		}

		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		}, chain)

		assert.Equal(t, replaced, seen)
		assert.Equal(t, replaced, Cause(err))
	})

	t.Run("afterFailure recovers with a fallback", func(t *testing.T) {
		tr := &trace{}
		chain := []Binding{
			AfterFailure("recover", func(ctx context.Context, inv *Invocation, cause error) (any, error) {
				tr.add("recover")
				return "fallback", nil
			}),
			OnFailure("later", func(ctx context.Context, inv *Invocation, cause error) {
				tr.add("later")
			}),
		}

		result, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		}, chain)

		require.NoError(t, err)
		assert.Equal(t, "fallback", result)
		assert.Equal(t, []string{"recover"}, tr.get())
	})
}

func TestInvoke_Panics(t *testing.T) {
	ctx := context.Background()

	t.Run("target panic becomes a failure", func(t *testing.T) {
		tr := &trace{}
		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			panic("kaboom")
		}, tracingChain(tr))

		var panicErr *PanicError
		require.ErrorAs(t, err, &panicErr)
		assert.Equal(t, "kaboom", panicErr.Value)
		assert.NotEmpty(t, panicErr.Stack)
		assert.Equal(t, []string{"B", "AR1", "AR2", "A", "afterFailure(panic: kaboom)"}, tr.get())
	})

	t.Run("before panic aborts the call", func(t *testing.T) {
		executed := false
		chain := []Binding{
			Before("explode", func(ctx context.Context, inv *Invocation) error {
				panic(errors.New("bad state"))
			}),
		}

		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			executed = true
			return nil, nil
		}, chain)

		assert.False(t, executed)
		assert.True(t, IsAdviceError(err))
		assert.EqualError(t, errors.Unwrap(errors.Unwrap(errors.Unwrap(err))), "bad state")
	})
}

func TestInvoke_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing method", func(t *testing.T) {
		site := contracts.CallSite{Type: "App"}
		_, err := newTestInvoker().Invoke(ctx, &site, func(ctx context.Context) (any, error) {
			return nil, nil
		}, nil)

		assert.ErrorIs(t, err, contracts.ErrMissingMethod)
	})

	t.Run("nil target", func(t *testing.T) {
		_, err := newTestInvoker().Invoke(ctx, helloSite("x"), nil, nil)

		var opErr *OperationError
		require.ErrorAs(t, err, &opErr)
		assert.ErrorIs(t, err, ErrNilTarget)
	})
}

func TestInvoke_StateMachine(t *testing.T) {
	ctx := context.Background()

	record := func() (*[]string, StateListener) {
		var states []string
		return &states, StateListenerFunc(func(inv *Invocation, from, to State) {
			states = append(states, to.String())
		})
	}

	t.Run("success path", func(t *testing.T) {
		states, listener := record()
		_, err := newTestInvoker(WithStateListener(listener)).Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return "ok", nil
		}, tracingChain(&trace{}))

		require.NoError(t, err)
		assert.Equal(t, []string{
			"before-running", "around-nesting", "target-executing", "succeeded",
			"after-running", "success-handling", "completed",
		}, *states)
	})

	t.Run("failure path", func(t *testing.T) {
		states, listener := record()
		_, err := newTestInvoker(WithStateListener(listener)).Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		}, tracingChain(&trace{}))

		require.Error(t, err)
		assert.Equal(t, []string{
			"before-running", "around-nesting", "target-executing", "failed",
			"after-running", "failure-handling", "completed",
		}, *states)
	})

	t.Run("before abort completes directly", func(t *testing.T) {
		states, listener := record()
		chain := []Binding{Before("deny", func(ctx context.Context, inv *Invocation) error {
			return errors.New("denied")
		})}

		_, err := newTestInvoker(WithStateListener(listener)).Invoke(ctx, helloSite("x"), func(ctx context.Context) (any, error) {
			return nil, nil
		}, chain)

		require.Error(t, err)
		assert.Equal(t, []string{"before-running", "completed"}, *states)
	})
}

func TestInvoke_SharedValues(t *testing.T) {
	chain := []Binding{
		Before("tag", func(ctx context.Context, inv *Invocation) error {
			inv.Set("user", "john")
			return nil
		}),
		OnSuccess("read", func(ctx context.Context, inv *Invocation, result any) {
			user, ok := inv.GetString("user")
			assert.True(t, ok)
			assert.Equal(t, "john", user)
			assert.Equal(t, StateSuccessHandling, inv.State())
			assert.Equal(t, "ok", inv.Result())
		}),
	}

	_, err := newTestInvoker().Invoke(context.Background(), helloSite("x"), func(ctx context.Context) (any, error) {
		return "ok", nil
	}, chain)
	require.NoError(t, err)
}

func TestInvoke_Concurrent(t *testing.T) {
	registry := NewRegistry(quietLogger)
	var mu sync.Mutex
	count := 0
	registry.MustRegister(NewRule("count", "* xyz.demo.App.*(..)", Before("count", func(ctx context.Context, inv *Invocation) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})))

	invoker := newTestInvoker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			site := helloSite(fmt.Sprint(i))
			result, err := invoker.Invoke(context.Background(), site, func(ctx context.Context) (any, error) {
				return i, nil
			}, registry.Resolve(site))
			assert.NoError(t, err)
			assert.Equal(t, i, result)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
