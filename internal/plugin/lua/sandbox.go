package lua

import (
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L   *lua.LState
	log zerolog.Logger
}

// safeModules are the modules require may return.
var safeModules = map[string]bool{
	"string":    true,
	"table":     true,
	"math":      true,
	"coroutine": true,
	"os":        true,
}

// safeOsFuncs are the os functions kept in the sandbox.
var safeOsFuncs = []string{"clock", "date", "difftime", "time"}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState, log zerolog.Logger) *Sandbox {
	return &Sandbox{L: L, log: log}
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
		{lua.OsLibName, lua.OpenOs},
	}
	// io, debug and channel are never opened.
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}
	return nil
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.restrictOs()
	s.rearmCoroutines()
	s.installSafePrint()
	s.installSafeRequire()
}

// restrictOs replaces os with a table holding only the time functions.
func (s *Sandbox) restrictOs() {
	full, ok := s.L.GetGlobal("os").(*lua.LTable)
	safe := s.L.NewTable()
	if ok {
		for _, name := range safeOsFuncs {
			safe.RawSetString(name, full.RawGetString(name))
		}
	}
	s.L.SetGlobal("os", safe)

	if loaded, ok := s.L.GetField(s.L.Get(lua.RegistryIndex), "_LOADED").(*lua.LTable); ok {
		loaded.RawSetString("os", safe)
	}
}

// rearmCoroutines replaces coroutine.resume and coroutine.wrap so a
// coroutine always runs under the context of the call resuming it. A
// thread otherwise keeps the context of the call that created it, which is
// canceled once that call returns.
func (s *Sandbox) rearmCoroutines() {
	co, ok := s.L.GetGlobal("coroutine").(*lua.LTable)
	if !ok {
		return
	}
	resume, ok1 := co.RawGetString("resume").(*lua.LFunction)
	create, ok2 := co.RawGetString("create").(*lua.LFunction)
	if !ok1 || !ok2 {
		return
	}

	// call resumes th with the arguments above base and returns the
	// number of values resume pushed.
	call := func(L *lua.LState, th *lua.LState, base int) int {
		if ctx := L.Context(); ctx != nil {
			th.SetContext(ctx)
		} else {
			th.RemoveContext()
		}
		args := []lua.LValue{th}
		for i := base + 1; i <= L.GetTop(); i++ {
			args = append(args, L.Get(i))
		}
		top := L.GetTop()
		if err := L.CallByParam(lua.P{Fn: resume, NRet: lua.MultRet}, args...); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return L.GetTop() - top
	}

	co.RawSetString("resume", s.L.NewFunction(func(L *lua.LState) int {
		return call(L, L.CheckThread(1), 1)
	}))
	co.RawSetString("wrap", s.L.NewFunction(func(L *lua.LState) int {
		fn := L.CheckFunction(1)
		if err := L.CallByParam(lua.P{Fn: create, NRet: 1}, fn); err != nil {
			L.RaiseError("%s", err.Error())
		}
		th := L.CheckThread(-1)
		L.Pop(1)
		L.Push(L.NewFunction(func(L *lua.LState) int {
			n := call(L, th, 0)
			top := L.GetTop()
			if L.Get(top-n+1) == lua.LFalse {
				L.Error(L.Get(top-n+2), 0)
				return 0
			}
			return n - 1
		}))
		return 1
	}))
}

// installSafePrint routes print to the plugin logger.
func (s *Sandbox) installSafePrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.log.Info().Str("source", "print").Msg(strings.Join(parts, "\t"))
		return 0
	}))
}

// installSafeRequire clears the module search paths and replaces require
// with a whitelist of built-in modules.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
		s.L.SetField(pkg, "loaders", s.L.NewTable())
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !safeModules[modName] {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		if modName == "os" {
			L.Push(L.GetGlobal("os"))
			return 1
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}
