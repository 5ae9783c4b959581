package lua

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plughost/internal/plugin/script"
)

// Default limits for Lua state.
const (
	DefaultCallStackSize   = 200
	DefaultRegistrySize    = 1024 * 20
	DefaultRegistryMaxSize = 1024 * 80
)

// State wraps gopher-lua as a script.Engine.
//
// gopher-lua's LState is not goroutine-safe. A State is driven by a single
// script.Context executor and must not be shared.
type State struct {
	L *lua.LState

	// Configuration
	callStackSize   int
	registryMaxSize int
	log             zerolog.Logger

	bridge  *Bridge
	sandbox *Sandbox

	closed bool
}

var _ script.Engine = (*State)(nil)

// StateOption configures a State.
type StateOption func(*State)

// WithLogger sets the logger that receives print output.
func WithLogger(log zerolog.Logger) StateOption {
	return func(s *State) {
		s.log = log
	}
}

// WithCallStackSize sets the maximum Lua call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		s.callStackSize = n
	}
}

// WithRegistryMaxSize caps the Lua value stack registry.
func WithRegistryMaxSize(n int) StateOption {
	return func(s *State) {
		s.registryMaxSize = n
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		callStackSize:   DefaultCallStackSize,
		registryMaxSize: DefaultRegistryMaxSize,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       state.callStackSize,
		RegistrySize:        DefaultRegistrySize,
		RegistryMaxSize:     state.registryMaxSize,
		IncludeGoStackTrace: false,
	})
	state.L = L

	if err := openSafeLibraries(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("open lua libraries: %w", err)
	}

	state.sandbox = NewSandbox(L, state.log)
	state.sandbox.Install()

	state.bridge = NewBridge(L)
	state.bridge.closed = func() bool { return state.closed }

	return state, nil
}

// Factory returns an engine factory producing sandboxed Lua states.
func Factory(opts ...StateOption) script.EngineFactory {
	return func() (script.Engine, error) {
		return NewState(opts...)
	}
}

// Load compiles src as a chunk and runs it.
func (s *State) Load(ctx context.Context, chunk string, src []byte) error {
	if s.closed {
		return ErrStateClosed
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer s.L.SetTop(top)

	return s.doWithRecovery(func() error {
		fn, err := s.L.Load(bytes.NewReader(src), chunk)
		if err != nil {
			return err
		}
		s.L.Push(fn)
		return s.L.PCall(0, lua.MultRet, nil)
	})
}

// doWithRecovery executes a function with panic recovery.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// SetGlobal binds a Go value as a global.
func (s *State) SetGlobal(name string, value any) error {
	if s.closed {
		return ErrStateClosed
	}
	s.L.SetGlobal(name, s.bridge.ToLuaValue(value))
	return nil
}

// GetGlobal returns a global converted to Go.
func (s *State) GetGlobal(name string) any {
	if s.closed {
		return nil
	}
	return s.bridge.ToGoValue(s.L.GetGlobal(name))
}

// HasFunction reports whether the global name is a function.
func (s *State) HasFunction(name string) bool {
	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Call calls a global Lua function with the given arguments and returns
// its first result.
func (s *State) Call(ctx context.Context, name string, args ...any) (any, error) {
	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(name)
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", name, fnVal.Type())
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer s.L.SetTop(top)

	var result any
	err := s.doWithRecovery(func() error {
		s.L.Push(fnVal)
		for _, arg := range args {
			s.L.Push(s.bridge.ToLuaValue(arg))
		}
		if err := s.L.PCall(len(args), 1, nil); err != nil {
			return err
		}
		result = s.bridge.ToGoValue(s.L.Get(-1))
		return nil
	})
	return result, err
}

// Guard runs fn with ctx armed on the state, so Lua callbacks invoked by
// fn are interrupted when ctx is done.
func (s *State) Guard(ctx context.Context, fn func() error) error {
	if s.closed {
		return ErrStateClosed
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer s.L.SetTop(top)

	return s.doWithRecovery(fn)
}

// Bridge returns the value bridge.
func (s *State) Bridge() *Bridge {
	return s.bridge
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	return s.closed
}

// Close releases all resources associated with the Lua state.
func (s *State) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	return nil
}
