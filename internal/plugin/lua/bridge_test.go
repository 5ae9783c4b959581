package lua

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/plughost/internal/plugin/script"
)

func TestBridgeToGoValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	tests := []struct {
		name     string
		input    glua.LValue
		expected any
	}{
		{"nil", glua.LNil, nil},
		{"true", glua.LTrue, true},
		{"false", glua.LFalse, false},
		{"integer", glua.LNumber(42), int64(42)},
		{"float", glua.LNumber(3.14), 3.14},
		{"string", glua.LString("hello"), "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bridge.ToGoValue(tt.input))
		})
	}
}

func TestBridgeTables(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	arr := L.NewTable()
	arr.RawSetInt(1, glua.LString("a"))
	arr.RawSetInt(2, glua.LString("b"))
	assert.Equal(t, []any{"a", "b"}, bridge.ToGoValue(arr))

	sparse := L.NewTable()
	sparse.RawSetInt(1, glua.LString("a"))
	sparse.RawSetInt(3, glua.LString("c"))
	assert.Equal(t, map[string]any{"1": "a", "3": "c"}, bridge.ToGoValue(sparse))

	obj := L.NewTable()
	obj.RawSetString("name", glua.LString("x"))
	obj.RawSetString("nested", arr)
	assert.Equal(t, map[string]any{"name": "x", "nested": []any{"a", "b"}}, bridge.ToGoValue(obj))

	cyclic := L.NewTable()
	cyclic.RawSetString("self", cyclic)
	assert.Equal(t, map[string]any{"self": nil}, bridge.ToGoValue(cyclic))
}

func TestBridgeRoundTrip(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	in := map[string]any{
		"s":    "text",
		"n":    int64(7),
		"f":    1.5,
		"b":    true,
		"list": []any{int64(1), "two"},
	}
	assert.Equal(t, in, bridge.ToGoValue(bridge.ToLuaValue(in)))

	type point struct {
		X int `json:"x"`
		Y int `json:"y,omitempty"`
	}
	assert.Equal(t, map[string]any{"x": int64(1), "y": int64(2)}, bridge.ToGoValue(bridge.ToLuaValue(point{1, 2})))
}

func TestBridgeObjectAndFunc(t *testing.T) {
	s := newState(t)

	api := script.Object{
		"math": script.Object{
			"double": script.Func(func(_ context.Context, args []any) (any, error) {
				return script.NumberArg(args, 0, 0) * 2, nil
			}),
		},
		"fail": script.Func(func(context.Context, []any) (any, error) {
			return nil, errors.New("denied")
		}),
		"name": "host",
	}
	require.NoError(t, s.SetGlobal("api", api))
	require.NoError(t, load(t, s, `
		doubled = api.math.double(21)
		ok, msg = pcall(api.fail)
		name = api.name
		missing = api.nothing == nil
	`))

	assert.Equal(t, int64(42), s.GetGlobal("doubled"))
	assert.Equal(t, false, s.GetGlobal("ok"))
	assert.Contains(t, s.GetGlobal("msg"), "denied")
	assert.Equal(t, "host", s.GetGlobal("name"))
	assert.Equal(t, true, s.GetGlobal("missing"))
}

func TestCallbackIdentity(t *testing.T) {
	s := newState(t)
	require.NoError(t, load(t, s, `
		function a() end
		function b() end
		alias = a
	`))

	a1 := s.GetGlobal("a").(script.Callback)
	a2 := s.GetGlobal("alias").(script.Callback)
	b := s.GetGlobal("b").(script.Callback)

	assert.True(t, a1.Same(a2))
	assert.False(t, a1.Same(b))
	assert.False(t, a1.Same(&script.FuncCallback{}))
}
