// Package lua provides the Lua script engine for plugins.
//
// This package wraps gopher-lua to provide:
//   - A sandboxed Lua state implementing script.Engine
//   - Go-Lua value conversion, including host functions and callbacks
//   - Context-driven interruption of running scripts
//
// # State
//
// The State type manages a Lua runtime with only safe libraries opened:
//
//	state, err := lua.NewState(lua.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	ctx, cancel := context.WithTimeout(ctx, time.Second)
//	defer cancel()
//	if err := state.Load(ctx, "main.lua", src); err != nil {
//	    return err
//	}
//
// A State is usually created through Factory and driven by a
// script.Context, which serializes access and enforces the budget.
//
// # Sandbox
//
// The Sandbox restricts Lua code execution by:
//   - Not opening io, debug or channel
//   - Removing dofile, loadfile, load and loadstring
//   - Reducing os to clock, date, difftime and time
//   - Limiting require to built-in modules
//   - Routing print to the plugin logger
//
// # Bridge
//
// The Bridge converts values in both directions. script.Func becomes a
// Lua function, script.Object a table, and Lua functions passed to the
// host become script.Callback values compared by identity.
package lua
