package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFunc func(ctx context.Context, args []any) (any, error)

// fakeEngine is an in-memory Engine whose "script" is a set of Go funcs.
type fakeEngine struct {
	mu      sync.Mutex
	funcs   map[string]fakeFunc
	globals map[string]any
	loaded  string
	closed  atomic.Bool
}

func (e *fakeEngine) Load(ctx context.Context, chunk string, src []byte) error {
	if strings.Contains(string(src), "syntax error") {
		return errors.New(chunk + ":1: syntax error near 'end'")
	}
	if strings.Contains(string(src), "spin") {
		<-ctx.Done()
		return ctx.Err()
	}
	e.loaded = chunk
	return nil
}

func (e *fakeEngine) SetGlobal(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.globals == nil {
		e.globals = make(map[string]any)
	}
	e.globals[name] = value
	return nil
}

func (e *fakeEngine) HasFunction(name string) bool {
	_, ok := e.funcs[name]
	return ok
}

func (e *fakeEngine) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := e.funcs[name]
	if !ok {
		return nil, errors.New("not a function")
	}
	return fn(ctx, args)
}

func (e *fakeEngine) Guard(ctx context.Context, fn func() error) error {
	return fn()
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func writeMain(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.fake")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func newTestContext(t *testing.T, src string, funcs map[string]fakeFunc) (*Context, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{funcs: funcs}
	sc := New(Options{
		PluginID: "demo",
		MainPath: writeMain(t, src),
		Factory:  func() (Engine, error) { return eng, nil },
		Globals:  map[string]any{"api": Object{"version": "1"}},
		Timeout:  100 * time.Millisecond,
		Grace:    100 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(sc.Dispose)
	return sc, eng
}

func TestLifecycleOrder(t *testing.T) {
	var calls []string
	record := func(name string) fakeFunc {
		return func(context.Context, []any) (any, error) {
			calls = append(calls, name)
			return nil, nil
		}
	}
	sc, eng := newTestContext(t, "ok", map[string]fakeFunc{
		HookLoad:   record(HookLoad),
		HookUnload: record(HookUnload),
	})
	ctx := context.Background()

	assert.Equal(t, StateCreated, sc.State())

	require.NoError(t, sc.LoadScript(ctx))
	assert.Equal(t, StateScriptLoaded, sc.State())
	assert.False(t, sc.IsLoaded())
	assert.Equal(t, "main.fake", eng.loaded)
	assert.Contains(t, eng.globals, "api")

	require.NoError(t, sc.CallOnLoad(ctx))
	assert.Equal(t, StateActive, sc.State())
	assert.True(t, sc.IsLoaded())

	require.NoError(t, sc.CallOnUnload(ctx))
	assert.Equal(t, StateUnloaded, sc.State())
	assert.False(t, sc.IsLoaded())

	sc.Dispose()
	assert.Equal(t, StateDisposed, sc.State())
	assert.True(t, eng.closed.Load())
	assert.Equal(t, []string{HookLoad, HookUnload}, calls)

	sc.Dispose()
	assert.Equal(t, StateDisposed, sc.State())
}

func TestMissingHooksSucceed(t *testing.T) {
	sc, _ := newTestContext(t, "ok", nil)
	ctx := context.Background()

	require.NoError(t, sc.LoadScript(ctx))
	require.NoError(t, sc.CallOnLoad(ctx))
	require.NoError(t, sc.CallOnUnload(ctx))

	assert.NoError(t, sc.LastError())
}

func TestLoadFailureStaysCreated(t *testing.T) {
	sc, eng := newTestContext(t, "syntax error", nil)

	err := sc.LoadScript(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScriptLoad)
	assert.Equal(t, KindLoad, KindOf(err))
	assert.Contains(t, err.Error(), "syntax error")

	assert.Equal(t, StateCreated, sc.State())
	assert.Equal(t, err, sc.LastError())
	assert.Eventually(t, eng.closed.Load, time.Second, 5*time.Millisecond)

	_, err = sc.InvokeFunction(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadMissingFile(t *testing.T) {
	sc := New(Options{
		PluginID: "demo",
		MainPath: filepath.Join(t.TempDir(), "missing.lua"),
		Factory:  func() (Engine, error) { return &fakeEngine{}, nil },
		Logger:   zerolog.Nop(),
	})
	err := sc.LoadScript(context.Background())
	assert.ErrorIs(t, err, ErrScriptLoad)
	assert.Equal(t, StateCreated, sc.State())
}

func TestLoadTimeoutIsLoadError(t *testing.T) {
	sc, _ := newTestContext(t, "spin", nil)

	err := sc.LoadScript(context.Background())
	assert.ErrorIs(t, err, ErrScriptLoad)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateCreated, sc.State())
}

func TestThrowingOnLoadLeavesContextUsable(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	sc, _ := newTestContext(t, "ok", map[string]fakeFunc{
		HookLoad: func(context.Context, []any) (any, error) {
			if fail.Load() {
				return nil, errors.New("boom")
			}
			return nil, nil
		},
		"echo": func(_ context.Context, args []any) (any, error) {
			return args[0], nil
		},
	})
	ctx := context.Background()
	require.NoError(t, sc.LoadScript(ctx))

	err := sc.CallOnLoad(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StateScriptLoaded, sc.State())
	assert.Equal(t, err, sc.LastError())

	result, err := sc.InvokeFunction(ctx, "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", result)

	fail.Store(false)
	require.NoError(t, sc.CallOnLoad(ctx))
	assert.True(t, sc.IsLoaded())
}

func TestThrowingOnUnloadStillUnloads(t *testing.T) {
	sc, _ := newTestContext(t, "ok", map[string]fakeFunc{
		HookUnload: func(context.Context, []any) (any, error) {
			return nil, errors.New("cleanup failed")
		},
	})
	ctx := context.Background()
	require.NoError(t, sc.LoadScript(ctx))
	require.NoError(t, sc.CallOnLoad(ctx))

	err := sc.CallOnUnload(ctx)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.Equal(t, StateUnloaded, sc.State())
}

func TestInvokeMissingFunction(t *testing.T) {
	sc, _ := newTestContext(t, "ok", nil)
	require.NoError(t, sc.LoadScript(context.Background()))

	result, err := sc.InvokeFunction(context.Background(), "nope", 1, 2)
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.False(t, sc.HasFunction(context.Background(), "nope"))
}

func TestTimeoutInterruptsCall(t *testing.T) {
	sc, _ := newTestContext(t, "ok", map[string]fakeFunc{
		"loop": func(ctx context.Context, _ []any) (any, error) {
			for ctx.Err() == nil {
			}
			return nil, ctx.Err()
		},
		"quick": func(context.Context, []any) (any, error) {
			return "done", nil
		},
	})
	ctx := context.Background()
	require.NoError(t, sc.LoadScript(ctx))

	start := time.Now()
	_, err := sc.InvokeFunction(ctx, "loop")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, elapsed, 150*time.Millisecond+sc.opts.Grace)

	result, err := sc.InvokeFunction(ctx, "quick")
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestStuckHostFunctionIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	sc, eng := newTestContext(t, "ok", map[string]fakeFunc{
		"stuck": func(context.Context, []any) (any, error) {
			<-release
			return nil, nil
		},
	})
	ctx := context.Background()
	require.NoError(t, sc.LoadScript(ctx))

	start := time.Now()
	_, err := sc.InvokeFunction(ctx, "stuck")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	sc.Dispose()
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, eng.closed.Load())

	close(release)
	assert.Eventually(t, eng.closed.Load, time.Second, 5*time.Millisecond)
}

func TestPanicIsContained(t *testing.T) {
	sc, _ := newTestContext(t, "ok", map[string]fakeFunc{
		"explode": func(context.Context, []any) (any, error) {
			panic("kaboom")
		},
	})
	require.NoError(t, sc.LoadScript(context.Background()))

	_, err := sc.InvokeFunction(context.Background(), "explode")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRunUsesWorker(t *testing.T) {
	sc, _ := newTestContext(t, "ok", nil)
	require.NoError(t, sc.LoadScript(context.Background()))

	var ran bool
	err := sc.Run(context.Background(), "deliver", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		ran = hasDeadline
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	err = sc.Run(context.Background(), "deliver", func(context.Context) error {
		return errors.New("listener failed")
	})
	assert.ErrorIs(t, err, ErrRuntime)
}

func TestDisposedContextRejectsCalls(t *testing.T) {
	sc, _ := newTestContext(t, "ok", nil)
	require.NoError(t, sc.LoadScript(context.Background()))
	sc.Dispose()

	_, err := sc.InvokeFunction(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, sc.CallOnLoad(context.Background()), ErrDisposed)
	assert.ErrorIs(t, sc.CallOnUnload(context.Background()), ErrDisposed)
	assert.ErrorIs(t, sc.LoadScript(context.Background()), ErrDisposed)
}

func TestEnabledFlag(t *testing.T) {
	sc, _ := newTestContext(t, "ok", nil)
	assert.True(t, sc.IsEnabled())
	sc.SetEnabled(false)
	assert.False(t, sc.IsEnabled())
}
