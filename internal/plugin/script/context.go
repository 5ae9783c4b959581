// Package script runs one plugin's entry script in an isolated engine.
//
// A Context owns an engine and the executor goroutine that drives it. All
// script code runs under an execution budget; exceptions, timeouts and
// panics are returned as *Error values and never escape to the caller.
//
//	sc := script.New(script.Options{
//	    PluginID: "demo",
//	    MainPath: "/plugins/demo/main.lua",
//	    Factory:  lua.Factory(),
//	    Globals:  map[string]any{"api": registry.Namespace()},
//	})
//	defer sc.Dispose()
//
//	if err := sc.LoadScript(ctx); err != nil {
//	    return err
//	}
//	if err := sc.CallOnLoad(ctx); err != nil {
//	    return err
//	}
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Execution defaults.
const (
	DefaultTimeout = 5 * time.Second
	DefaultGrace   = time.Second
)

// Lifecycle hook names looked up as script globals.
const (
	HookLoad          = "onLoad"
	HookUnload        = "onUnload"
	HookConfigChanged = "onConfigChanged"
)

// Options configures a Context.
type Options struct {
	PluginID  string
	SourceDir string // read-only package directory
	ConfigDir string // writable, profile-scoped directory
	MainPath  string // absolute entry script path

	Factory EngineFactory

	// Globals are bound before the entry script runs.
	Globals map[string]any

	// Timeout is the budget of each call into the script.
	Timeout time.Duration

	// Grace bounds how long a caller waits past Timeout for a call that
	// does not stop, and how long Dispose waits for the worker.
	Grace time.Duration

	QueueSize int
	Logger    zerolog.Logger
}

type session struct {
	exec   *Executor
	engine Engine // touched only on the executor goroutine
}

// Context is the execution context of a single plugin script.
type Context struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	enabled bool
	lastErr error
	sess    *session
}

// New creates a context in StateCreated.
func New(opts Options) *Context {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Context{
		opts:    opts,
		log:     opts.Logger.With().Str("plugin", opts.PluginID).Logger(),
		state:   StateCreated,
		enabled: true,
	}
}

// PluginID returns the plugin identifier.
func (c *Context) PluginID() string { return c.opts.PluginID }

// SourceDir returns the package directory.
func (c *Context) SourceDir() string { return c.opts.SourceDir }

// ConfigDir returns the profile-scoped config directory.
func (c *Context) ConfigDir() string { return c.opts.ConfigDir }

// Timeout returns the per-call budget.
func (c *Context) Timeout() time.Duration { return c.opts.Timeout }

// State returns the lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLoaded reports whether onLoad succeeded and onUnload was not called.
func (c *Context) IsLoaded() bool {
	return c.State() == StateActive
}

// IsEnabled reports the enabled flag.
func (c *Context) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled sets the enabled flag.
func (c *Context) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// LastError returns the most recent failure, or nil.
func (c *Context) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LoadScript creates the engine, binds globals and runs the entry script.
// On failure the context stays in StateCreated and the engine is released.
func (c *Context) LoadScript(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateCreated:
	case StateDisposed:
		c.mu.Unlock()
		return c.errState("load", ErrDisposed)
	default:
		state := c.state
		c.mu.Unlock()
		return c.errState("load", fmt.Errorf("script already loaded (state %s)", state))
	}
	c.mu.Unlock()

	if c.opts.Factory == nil {
		return c.record(&Error{Kind: KindLoad, PluginID: c.opts.PluginID, Op: "load", Err: errors.New("no script engine")})
	}

	src, err := os.ReadFile(c.opts.MainPath)
	if err != nil {
		return c.record(&Error{Kind: KindLoad, PluginID: c.opts.PluginID, Op: "load", Err: err})
	}

	sess := &session{}
	sess.exec = NewExecutor(c.opts.QueueSize, func() {
		if sess.engine != nil {
			if err := sess.engine.Close(); err != nil {
				c.log.Debug().Err(err).Msg("engine close")
			}
			sess.engine = nil
		}
	})

	chunk := filepath.Base(c.opts.MainPath)
	err = c.execute(ctx, sess, "load", KindLoad, func(callCtx context.Context) error {
		eng, err := c.opts.Factory()
		if err != nil {
			return err
		}
		sess.engine = eng

		names := make([]string, 0, len(c.opts.Globals))
		for name := range c.opts.Globals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := eng.SetGlobal(name, c.opts.Globals[name]); err != nil {
				return fmt.Errorf("bind %s: %w", name, err)
			}
		}
		return eng.Load(callCtx, chunk, src)
	})
	if err != nil {
		sess.exec.Close()
		c.log.Warn().Err(err).Msg("Script load failed")
		return c.record(err)
	}

	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		sess.exec.Close()
		return c.errState("load", ErrDisposed)
	}
	c.sess = sess
	c.state = StateScriptLoaded
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Debug().Str("main", chunk).Msg("Script loaded")
	return nil
}

// CallOnLoad invokes the onLoad hook. A missing hook succeeds. On failure
// the context stays callable and may be retried.
func (c *Context) CallOnLoad(ctx context.Context) error {
	sess, err := c.callable("onLoad")
	if err != nil {
		return err
	}
	if _, err := c.invoke(ctx, sess, HookLoad, HookLoad); err != nil {
		return c.record(err)
	}

	c.mu.Lock()
	if c.state == StateScriptLoaded {
		c.state = StateActive
	}
	c.mu.Unlock()
	return nil
}

// CallOnUnload invokes the onUnload hook. The context moves to
// StateUnloaded whatever the outcome.
func (c *Context) CallOnUnload(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisposed:
		c.mu.Unlock()
		return c.errState("onUnload", ErrDisposed)
	case StateCreated, StateUnloaded:
		c.state = StateUnloaded
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	c.mu.Unlock()

	_, err := c.invoke(ctx, sess, HookUnload, HookUnload)

	c.mu.Lock()
	if c.state != StateDisposed {
		c.state = StateUnloaded
	}
	c.mu.Unlock()

	if err != nil {
		return c.record(err)
	}
	return nil
}

// InvokeFunction calls a global script function. A missing function
// returns nil, nil.
func (c *Context) InvokeFunction(ctx context.Context, name string, args ...any) (any, error) {
	sess, err := c.callable("call " + name)
	if err != nil {
		return nil, err
	}
	result, err := c.invoke(ctx, sess, "call "+name, name, args...)
	if err != nil {
		return nil, c.record(err)
	}
	return result, nil
}

// HasFunction reports whether the script defines a global function.
func (c *Context) HasFunction(ctx context.Context, name string) bool {
	sess, err := c.callable("has " + name)
	if err != nil {
		return false
	}
	var found bool
	err = c.execute(ctx, sess, "has "+name, KindRuntime, func(context.Context) error {
		found = sess.engine.HasFunction(name)
		return nil
	})
	return err == nil && found
}

// Run executes host code that calls back into the script, such as event
// delivery, on the worker goroutine under the execution budget.
func (c *Context) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sess, err := c.callable(op)
	if err != nil {
		return err
	}
	err = c.execute(ctx, sess, op, KindRuntime, func(callCtx context.Context) error {
		return sess.engine.Guard(callCtx, func() error { return fn(callCtx) })
	})
	if err != nil {
		return c.record(err)
	}
	return nil
}

// Dispose releases the engine. It is idempotent. The engine is closed on
// the worker goroutine once any in-flight call returns; Dispose waits at
// most the grace period for that.
func (c *Context) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisposed
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.exec.Close()

	timer := time.NewTimer(c.opts.Grace)
	defer timer.Stop()
	select {
	case <-sess.exec.Stopped():
	case <-timer.C:
		c.log.Warn().Msg("Script still running after dispose; abandoning")
	}
}

func (c *Context) callable(op string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateDisposed:
		return nil, c.errStateLocked(op, ErrDisposed)
	case !c.state.IsCallable() || c.sess == nil:
		return nil, c.errStateLocked(op, ErrNotLoaded)
	}
	return c.sess, nil
}

func (c *Context) invoke(ctx context.Context, sess *session, op, name string, args ...any) (any, error) {
	var result any
	err := c.execute(ctx, sess, op, KindRuntime, func(callCtx context.Context) error {
		if !sess.engine.HasFunction(name) {
			return nil
		}
		var err error
		result, err = sess.engine.Call(callCtx, name, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// execute runs fn on the worker under a budget. The caller waits at most
// budget plus grace; past that the job is abandoned.
func (c *Context) execute(ctx context.Context, sess *session, op string, kind Kind, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	waitCtx, waitCancel := context.WithTimeout(ctx, c.opts.Timeout+c.opts.Grace)
	defer waitCancel()

	err := sess.exec.Execute(waitCtx, func() error {
		if err := callCtx.Err(); err != nil {
			return err
		}
		return fn(callCtx)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrExecutorClosed) {
		return &Error{Kind: KindState, PluginID: c.opts.PluginID, Op: op, Err: ErrDisposed}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if kind == KindLoad {
			return &Error{Kind: KindLoad, PluginID: c.opts.PluginID, Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
		}
		return &Error{Kind: KindTimeout, PluginID: c.opts.PluginID, Op: op, Err: err}
	}
	return &Error{Kind: kind, PluginID: c.opts.PluginID, Op: op, Err: err}
}

func (c *Context) record(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *Context) errState(op string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errStateLocked(op, err)
}

func (c *Context) errStateLocked(op string, err error) error {
	e := &Error{Kind: KindState, PluginID: c.opts.PluginID, Op: op, Err: err}
	c.lastErr = e
	return e
}
