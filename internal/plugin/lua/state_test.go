package lua

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/internal/plugin/script"
)

func newState(t *testing.T, opts ...StateOption) *State {
	t.Helper()
	s, err := NewState(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func load(t *testing.T, s *State, src string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Load(ctx, "main.lua", []byte(src))
}

func TestLoadAndCall(t *testing.T) {
	s := newState(t)
	require.NoError(t, load(t, s, `
		counter = 0
		function add(a, b) counter = counter + 1; return a + b end
		function greet(name) return "hello " .. name end
	`))

	assert.True(t, s.HasFunction("add"))
	assert.False(t, s.HasFunction("counter"))
	assert.False(t, s.HasFunction("missing"))

	result, err := s.Call(context.Background(), "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result)

	result, err = s.Call(context.Background(), "greet", "lua")
	require.NoError(t, err)
	assert.Equal(t, "hello lua", result)

	assert.Equal(t, int64(1), s.GetGlobal("counter"))
	assert.Equal(t, 0, s.L.GetTop(), "stack must be balanced")
}

func TestLoadSyntaxError(t *testing.T) {
	s := newState(t)
	err := load(t, s, `function broken( end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main.lua")
}

func TestLoadRuntimeError(t *testing.T) {
	s := newState(t)
	err := load(t, s, `error("top level failure")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top level failure")
}

func TestCallError(t *testing.T) {
	s := newState(t)
	require.NoError(t, load(t, s, `function fail() error("boom") end`))

	_, err := s.Call(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = s.Call(context.Background(), "nothing")
	assert.Error(t, err)
}

func TestInfiniteLoopInterrupted(t *testing.T) {
	s := newState(t)
	require.NoError(t, load(t, s, `function spin() while true do end end`))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Call(ctx, "spin")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	result, err := s.Call(context.Background(), "tostring", 1)
	require.NoError(t, err)
	assert.Equal(t, "1", result)
}

func TestCoroutinesSurviveAcrossCalls(t *testing.T) {
	s := newState(t)
	require.NoError(t, load(t, s, `
		co = coroutine.create(function()
			local n = 0
			while true do n = n + 1; coroutine.yield(n) end
		end)
		gen = coroutine.wrap(function() for i = 1, 2 do coroutine.yield(i * 10) end end)
		function tick()
			local ok, v = coroutine.resume(co)
			if not ok then error(v) end
			return v
		end
		function nextTen() return gen() end
		function spin()
			local c = coroutine.create(function() while true do end end)
			local ok = coroutine.resume(c)
			return ok
		end
	`))

	call := func(name string, timeout time.Duration) (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Call(ctx, name)
	}

	for want := int64(1); want <= 3; want++ {
		v, err := call("tick", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	for _, want := range []int64{10, 20} {
		v, err := call("nextTen", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	start := time.Now()
	_, _ = call("spin", 50*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	v, err := call("tick", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestSandboxRestrictions(t *testing.T) {
	s := newState(t)
	require.NoError(t, load(t, s, `
		has_io = io ~= nil
		has_debug = debug ~= nil
		has_load = load ~= nil
		has_dofile = dofile ~= nil
		has_execute = os.execute ~= nil
		has_exit = os.exit ~= nil
		has_time = os.time ~= nil
		ok_string = pcall(require, "string")
		ok_io = pcall(require, "io")
		ok_custom = pcall(require, "socket")
	`))

	for _, name := range []string{"has_io", "has_debug", "has_load", "has_dofile", "has_execute", "has_exit", "ok_io", "ok_custom"} {
		assert.Equal(t, false, s.GetGlobal(name), name)
	}
	assert.Equal(t, true, s.GetGlobal("has_time"))
	assert.Equal(t, true, s.GetGlobal("ok_string"))
}

func TestPrintGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	s := newState(t, WithLogger(zerolog.New(&buf)))

	require.NoError(t, load(t, s, `print("hello", 42)`))
	assert.Contains(t, buf.String(), `"message":"hello\t42"`)
}

func TestClosedState(t *testing.T) {
	s, err := NewState()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.Load(context.Background(), "x", []byte("x = 1")), ErrStateClosed)
	_, err = s.Call(context.Background(), "f")
	assert.ErrorIs(t, err, ErrStateClosed)
	assert.False(t, s.HasFunction("f"))
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func newContext(t *testing.T, src string, globals map[string]any) *script.Context {
	t.Helper()
	sc := script.New(script.Options{
		PluginID: "lua-test",
		MainPath: writeScript(t, src),
		Factory:  Factory(),
		Globals:  globals,
		Timeout:  200 * time.Millisecond,
		Grace:    200 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(sc.Dispose)
	return sc
}

func TestScriptContextLifecycle(t *testing.T) {
	var calls []string
	record := script.Func(func(_ context.Context, args []any) (any, error) {
		calls = append(calls, args[0].(string))
		return nil, nil
	})

	sc := newContext(t, `
		record("top")
		function onLoad() record("onLoad") end
		function onUnload() record("onUnload") end
	`, map[string]any{"record": record})
	ctx := context.Background()

	require.NoError(t, sc.LoadScript(ctx))
	require.NoError(t, sc.CallOnLoad(ctx))
	require.NoError(t, sc.CallOnUnload(ctx))
	sc.Dispose()

	assert.Equal(t, []string{"top", "onLoad", "onUnload"}, calls)
	assert.Equal(t, script.StateDisposed, sc.State())
}

func TestScriptContextThrowingHooks(t *testing.T) {
	sc := newContext(t, `
		function onLoad() error("onLoad failed") end
		function onUnload() error("onUnload failed") end
		function ping() return "pong" end
	`, nil)
	ctx := context.Background()

	require.NoError(t, sc.LoadScript(ctx))

	err := sc.CallOnLoad(ctx)
	assert.ErrorIs(t, err, script.ErrRuntime)
	assert.Contains(t, err.Error(), "onLoad failed")

	result, err := sc.InvokeFunction(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", result)

	err = sc.CallOnUnload(ctx)
	assert.ErrorIs(t, err, script.ErrRuntime)
	assert.Equal(t, script.StateUnloaded, sc.State())
}

func TestScriptContextTimeout(t *testing.T) {
	sc := newContext(t, `
		function onLoad() while true do end end
		function ping() return "pong" end
	`, nil)
	ctx := context.Background()
	require.NoError(t, sc.LoadScript(ctx))

	start := time.Now()
	err := sc.CallOnLoad(ctx)
	assert.ErrorIs(t, err, script.ErrTimeout)
	assert.Less(t, time.Since(start), 700*time.Millisecond)

	result, err := sc.InvokeFunction(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}

func TestScriptContextSyntaxError(t *testing.T) {
	sc := newContext(t, `function onLoad( end`, nil)

	err := sc.LoadScript(context.Background())
	assert.ErrorIs(t, err, script.ErrScriptLoad)
	assert.Equal(t, script.StateCreated, sc.State())
	assert.NotNil(t, sc.LastError())
}

func TestScriptContextRunCallback(t *testing.T) {
	var handler script.Callback
	register := script.Func(func(_ context.Context, args []any) (any, error) {
		handler = script.CallbackArg(args, 0)
		if handler == nil {
			return nil, errors.New("expected function")
		}
		return true, nil
	})

	sc := newContext(t, `
		received = nil
		register(function(v) received = v; return v * 2 end)
		function get() return received end
	`, map[string]any{"register": register})
	ctx := context.Background()
	require.NoError(t, sc.LoadScript(ctx))
	require.NotNil(t, handler)

	var out any
	require.NoError(t, sc.Run(ctx, "deliver", func(context.Context) error {
		var err error
		out, err = handler.Call(21)
		return err
	}))
	assert.Equal(t, int64(42), out)

	got, err := sc.InvokeFunction(ctx, "get")
	require.NoError(t, err)
	assert.Equal(t, int64(21), got)
}
