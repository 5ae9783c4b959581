// Package js provides the JavaScript script engine for plugins, built on
// goja. Running scripts are stopped with Runtime.Interrupt when the call
// context is done.
package js

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/script"
)

// Errors.
var (
	// ErrClosed is returned when operating on a closed engine.
	ErrClosed = errors.New("js engine is closed")

	// ErrValueTooLarge is returned when a value handed to the host holds
	// more than MaxConvertedValues array elements and object fields.
	ErrValueTooLarge = errors.New("js value too large to convert")
)

// Engine is a goja runtime implementing script.Engine. It is not
// goroutine-safe; a script.Context drives it from one goroutine.
type Engine struct {
	vm  *goja.Runtime
	log zerolog.Logger

	// ctx is the context of the script call in progress.
	ctx    context.Context
	closed bool
}

var _ script.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger that receives console output.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New creates a runtime with a console bound to the logger.
func New(opts ...Option) *Engine {
	e := &Engine{
		vm:  goja.New(),
		log: zerolog.Nop(),
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.installConsole()
	return e
}

// Factory returns an engine factory producing fresh runtimes.
func Factory(opts ...Option) script.EngineFactory {
	return func() (script.Engine, error) {
		return New(opts...), nil
	}
}

func (e *Engine) installConsole() {
	console := e.vm.NewObject()
	levels := map[string]zerolog.Level{
		"log":   zerolog.InfoLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"debug": zerolog.DebugLevel,
	}
	for name, level := range levels {
		level := level
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			e.log.WithLevel(level).Str("source", "console").Msg(strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	_ = e.vm.Set("console", console)
}

// Load runs src as a script named chunk.
func (e *Engine) Load(ctx context.Context, chunk string, src []byte) error {
	if e.closed {
		return ErrClosed
	}
	return e.guarded(ctx, func() error {
		_, err := e.vm.RunScript(chunk, string(src))
		return err
	})
}

// SetGlobal binds a Go value as a global.
func (e *Engine) SetGlobal(name string, value any) error {
	if e.closed {
		return ErrClosed
	}
	return e.vm.Set(name, e.toValue(value))
}

// GetGlobal returns a global converted to Go.
func (e *Engine) GetGlobal(name string) any {
	if e.closed {
		return nil
	}
	v, err := e.toGo(e.vm.Get(name))
	if err != nil {
		return nil
	}
	return v
}

// HasFunction reports whether the global name is callable.
func (e *Engine) HasFunction(name string) bool {
	if e.closed {
		return false
	}
	_, ok := goja.AssertFunction(e.vm.Get(name))
	return ok
}

// Call invokes a global function and returns its result.
func (e *Engine) Call(ctx context.Context, name string, args ...any) (any, error) {
	if e.closed {
		return nil, ErrClosed
	}
	fn, ok := goja.AssertFunction(e.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%q is not a function", name)
	}

	var result any
	err := e.guarded(ctx, func() error {
		v, err := fn(goja.Undefined(), e.toValues(args)...)
		if err != nil {
			return err
		}
		result, err = e.toGo(v)
		return err
	})
	return result, err
}

// Guard runs fn under ctx's watchdog.
func (e *Engine) Guard(ctx context.Context, fn func() error) error {
	if e.closed {
		return ErrClosed
	}
	return e.guarded(ctx, fn)
}

// Close releases the runtime.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.vm.Interrupt(ErrClosed)
	return nil
}

// guarded arms an interrupt for ctx around fn and recovers panics.
func (e *Engine) guarded(ctx context.Context, fn func() error) (err error) {
	prev := e.ctx
	e.ctx = ctx

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		e.vm.Interrupt(ctx.Err())
		close(fired)
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("js panic: %v", r)
		}
		if !stop() {
			<-fired
		}
		e.vm.ClearInterrupt()
		e.ctx = prev
	}()

	return fn()
}

// callContext returns the context of the call in progress.
func (e *Engine) callContext() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}
