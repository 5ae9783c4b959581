package js

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

func load(t *testing.T, e *Engine, src string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return e.Load(ctx, "main.js", []byte(src))
}

func TestLoadAndCall(t *testing.T) {
	e := New()
	defer e.Close()

	require.NoError(t, load(t, e, `
		var counter = 0;
		function add(a, b) { counter++; return a + b; }
		function describe() { return {name: "js", tags: ["a", "b"], nested: {ok: true}}; }
	`))

	assert.True(t, e.HasFunction("add"))
	assert.False(t, e.HasFunction("counter"))
	assert.False(t, e.HasFunction("missing"))

	result, err := e.Call(context.Background(), "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result)

	result, err = e.Call(context.Background(), "describe")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":   "js",
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"ok": true},
	}, result)

	assert.Equal(t, int64(1), e.GetGlobal("counter"))
}

func TestSyntaxAndRuntimeErrors(t *testing.T) {
	e := New()
	defer e.Close()

	err := load(t, e, `function broken( {`)
	require.Error(t, err)

	require.NoError(t, load(t, e, `function fail() { throw new Error("boom"); }`))
	_, err = e.Call(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestInterruptOnDeadline(t *testing.T) {
	e := New()
	defer e.Close()
	require.NoError(t, load(t, e, `function spin() { while (true) {} } function ping() { return "pong"; }`))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Call(ctx, "spin")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	result, err := e.Call(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}

func TestHostFunctions(t *testing.T) {
	e := New()
	defer e.Close()

	api := script.Object{
		"double": script.Func(func(_ context.Context, args []any) (any, error) {
			return script.NumberArg(args, 0, 0) * 2, nil
		}),
		"fail": script.Func(func(context.Context, []any) (any, error) {
			return nil, errors.New("denied")
		}),
		"deadline": script.Func(func(ctx context.Context, _ []any) (any, error) {
			_, ok := ctx.Deadline()
			return ok, nil
		}),
	}
	require.NoError(t, e.SetGlobal("api", api))
	require.NoError(t, load(t, e, `
		var doubled = api.double(21);
		var caught = "";
		try { api.fail(); } catch (err) { caught = String(err); }
		var missing = typeof api.nothing === "undefined";
		var hasDeadline = api.deadline();
	`))

	assert.Equal(t, int64(42), e.GetGlobal("doubled"))
	assert.Contains(t, e.GetGlobal("caught"), "denied")
	assert.Equal(t, true, e.GetGlobal("missing"))
	assert.Equal(t, true, e.GetGlobal("hasDeadline"))
}

func TestOversizedValuesAreRejected(t *testing.T) {
	e := New()
	defer e.Close()

	var got any
	api := script.Object{
		"take": script.Func(func(_ context.Context, args []any) (any, error) {
			got = script.Arg(args, 0)
			return true, nil
		}),
	}
	require.NoError(t, e.SetGlobal("api", api))
	require.NoError(t, load(t, e, `
		function sparse() {
			var a = [];
			a[30000000] = 1;
			try { api.take(a); return "passed"; } catch (err) { return String(err); }
		}
		function huge() { var a = []; a.length = 4294967295; return a; }
		function holes() { var a = []; a[2] = "x"; return api.take(a); }
	`))
	ctx := context.Background()

	start := time.Now()
	v, err := e.Call(ctx, "sparse")
	require.NoError(t, err)
	assert.Contains(t, v, "too large")
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, got)

	_, err = e.Call(ctx, "huge")
	assert.ErrorIs(t, err, ErrValueTooLarge)

	v, err = e.Call(ctx, "holes")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, []any{nil, nil, "x"}, got)
}

func TestConsoleGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(zerolog.New(&buf)))
	defer e.Close()

	require.NoError(t, load(t, e, `console.warn("careful", 1)`))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"message":"careful 1"`)
}

func TestCallbackIdentity(t *testing.T) {
	e := New()
	defer e.Close()
	require.NoError(t, load(t, e, `function a() { return 1; } function b() {} var alias = a;`))

	a1 := e.GetGlobal("a").(script.Callback)
	a2 := e.GetGlobal("alias").(script.Callback)
	b := e.GetGlobal("b").(script.Callback)

	assert.True(t, a1.Same(a2))
	assert.False(t, a1.Same(b))

	v, err := a1.Call()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestScriptContextWithJS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.js")
	require.NoError(t, os.WriteFile(path, []byte(`
		var loaded = false;
		function onLoad() { loaded = true; }
		function onUnload() { throw new Error("unload failed"); }
		function isLoaded() { return loaded; }
		function hang() { for (;;) {} }
	`), 0o644))

	sc := script.New(script.Options{
		PluginID: "js-test",
		MainPath: path,
		Factory:  Factory(),
		Timeout:  100 * time.Millisecond,
		Grace:    100 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	defer sc.Dispose()
	ctx := context.Background()

	require.NoError(t, sc.LoadScript(ctx))
	require.NoError(t, sc.CallOnLoad(ctx))

	v, err := sc.InvokeFunction(ctx, "isLoaded")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = sc.InvokeFunction(ctx, "hang")
	assert.ErrorIs(t, err, script.ErrTimeout)

	v, err = sc.InvokeFunction(ctx, "isLoaded")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	assert.ErrorIs(t, sc.CallOnUnload(ctx), script.ErrRuntime)
	assert.Equal(t, script.StateUnloaded, sc.State())
}
