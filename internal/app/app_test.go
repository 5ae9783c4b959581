package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/plugin/hook"
	"github.com/dshills/plughost/internal/plugin/library"
)

const greeterMain = `
function hello(args) return { message = "hello " .. (args.name or "world") } end
function version() return "1" end
`

func writePackage(t *testing.T, dir, id, main string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `{"id":"` + id + `","name":"` + id + `","version":"1.0.0","main":"main.lua","permissions":["events"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(main), 0o644))
}

func newApp(t *testing.T) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Runtime.Timeout = config.Duration(time.Second)
	cfg.Runtime.Grace = config.Duration(200 * time.Millisecond)
	cfg.Watch.Debounce = config.Duration(20 * time.Millisecond)
	cfg.Actions = map[string]string{"greet": "greeter.hello"}
	writePackage(t, filepath.Join(cfg.Paths.BuiltinDir(), "greeter"), "greeter", greeterMain)

	a, err := New(Options{Config: cfg, LogOut: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewReconcilesBuiltins(t *testing.T) {
	a := newApp(t)
	assert.Equal(t, []string{"greeter"}, a.Reconciled().Installed)
	e, ok := a.Library().Get("greeter")
	require.True(t, ok)
	assert.Equal(t, library.SourceBuiltin, e.Source)
}

func TestNewReportsConfigErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runtime\n"), 0o644))

	_, err := New(Options{ConfigPath: path, LogOut: io.Discard})
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "config", initErr.Component)
}

func TestStartAndRouteActions(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	_, err := a.Associations().Add("work", "greeter", true)
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx, "work"))
	require.Len(t, a.Host().Plugins(), 1)

	p, _ := a.Host().Plugin("greeter")
	assert.Equal(t, a.Config().Paths.PluginConfigDir("work", "greeter"), p.ConfigDir())

	res := a.Router().Dispatch(ctx, hookAction("greet", map[string]any{"name": "ada"}))
	require.NoError(t, res.Err)
	assert.Equal(t, "hello ada", res.Message)

	err = a.Library().Uninstall("greeter", false)
	assert.True(t, library.IsConflict(err, library.HasReferences))
}

func TestRunBlocksUntilStopped(t *testing.T) {
	a := newApp(t)
	_, err := a.Associations().Add("work", "greeter", true)
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, "work", RunOptions{Watch: true}) }()

	require.Eventually(t, func() bool { return len(a.Host().Plugins()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.IsRunning())
	assert.ErrorIs(t, a.Run(ctx, "work", RunOptions{}), ErrAlreadyRunning)

	mainPath := filepath.Join(a.Library().PluginDir("greeter"), "main.lua")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(mainPath, []byte(`function version() return "2" end`), 0o644)
		v, err := a.Host().Invoke(ctx, "greeter", "version")
		return err == nil && v == "2"
	}, 3*time.Second, 50*time.Millisecond)

	a.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, a.IsRunning())
	assert.Empty(t, a.Host().Plugins())
}

func TestCloseIsIdempotent(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Start(context.Background(), "work"), ErrClosed)
}

func hookAction(name string, args map[string]any) hook.Action {
	return hook.Action{Name: name, Args: args}
}

func TestRunReadyFailureEndsRun(t *testing.T) {
	a := newApp(t)
	_, err := a.Associations().Add("work", "greeter", true)
	require.NoError(t, err)

	var loaded int
	boom := errors.New("boom")
	err = a.Run(context.Background(), "work", RunOptions{Ready: func(context.Context) error {
		loaded = len(a.Host().Plugins())
		return boom
	}})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, loaded)
	assert.Empty(t, a.Host().Plugins())
}
