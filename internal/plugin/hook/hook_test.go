package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	funcs map[string]func(args ...any) (any, error) // keyed by "plugin/fn"
	calls []string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{funcs: make(map[string]func(args ...any) (any, error))}
}

func (f *fakeTarget) add(pluginID, fn string, impl func(args ...any) (any, error)) {
	f.funcs[pluginID+"/"+fn] = impl
}

func (f *fakeTarget) Invoke(_ context.Context, pluginID, fn string, args ...any) (any, error) {
	f.calls = append(f.calls, pluginID+"/"+fn)
	impl, ok := f.funcs[pluginID+"/"+fn]
	if !ok {
		return nil, nil
	}
	return impl(args...)
}

func (f *fakeTarget) HasFunction(_ context.Context, pluginID, fn string) bool {
	_, ok := f.funcs[pluginID+"/"+fn]
	return ok
}

func returns(v any) func(...any) (any, error) {
	return func(...any) (any, error) { return v, nil }
}

func TestParseActionName(t *testing.T) {
	tests := []struct {
		name     string
		pluginID string
		fn       string
		wantErr  bool
	}{
		{"plugin.weather.refresh", "weather", "refresh", false},
		{"plugin.weather.refresh.now", "weather", "refresh_now", false},
		{"plugin.weather", "", "", true},
		{"plugin..refresh", "", "", true},
		{"plugin.weather.", "", "", true},
		{"core.weather.refresh", "", "", true},
		{"plugin.", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, fn, err := ParseActionName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pluginID, id)
			assert.Equal(t, tt.fn, fn)
		})
	}
}

func TestNamespaceHandler(t *testing.T) {
	target := newFakeTarget()
	var got map[string]any
	target.add("weather", "refresh", func(args ...any) (any, error) {
		got = args[0].(map[string]any)
		return nil, nil
	})
	h := NewNamespaceHandler(target)
	ctx := context.Background()

	assert.Equal(t, "plugin", h.Namespace())
	assert.True(t, h.CanHandle(ctx, "plugin.weather.refresh"))
	assert.False(t, h.CanHandle(ctx, "plugin.weather.missing"))
	assert.False(t, h.CanHandle(ctx, "plugin.other.refresh"))
	assert.False(t, h.CanHandle(ctx, "weather.refresh"))

	res := h.HandleAction(ctx, Action{Name: "plugin.weather.refresh", Count: 2, Args: map[string]any{"city": "Oslo"}})
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]any{"action": "plugin.weather.refresh", "count": 2, "city": "Oslo"}, got)

	res = h.HandleAction(ctx, Action{Name: "plugin.weather.missing"})
	assert.ErrorContains(t, res.Err, `has no function "missing"`)

	res = h.HandleAction(ctx, Action{Name: "bogus"})
	assert.ErrorContains(t, res.Err, "invalid plugin action")
}

func TestProcessResult(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr string
		message string
	}{
		{name: "nil", value: nil},
		{name: "true", value: true},
		{name: "false", value: false, wantErr: "plugin returned failure"},
		{name: "empty string", value: ""},
		{name: "string", value: "broken", wantErr: "broken"},
		{name: "number", value: int64(4)},
		{name: "table error", value: map[string]any{"error": "bad input"}, wantErr: "bad input"},
		{name: "status false", value: map[string]any{"status": false}, wantErr: "plugin returned failure"},
		{name: "status failed", value: map[string]any{"status": "failed", "message": "no network"}, wantErr: "no network"},
		{name: "status error", value: map[string]any{"status": "error"}, wantErr: "plugin returned failure"},
		{name: "message", value: map[string]any{"status": "ok", "message": "done"}, message: "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := processResult(tt.value)
			if tt.wantErr != "" {
				assert.EqualError(t, res.Err, tt.wantErr)
				assert.False(t, res.OK())
				return
			}
			assert.True(t, res.OK())
			assert.Equal(t, tt.message, res.Message)
		})
	}
}

func TestActionHandler(t *testing.T) {
	target := newFakeTarget()
	target.add("weather", "refresh", returns(map[string]any{"message": "refreshed"}))
	target.add("weather", "clear", returns(true))
	target.add("notes", "save", returns(true))
	h := NewActionHandler(target)
	ctx := context.Background()

	h.Register("refresh-weather", "weather", "refresh")
	h.Register("weather.clear", "weather", "")
	h.Register("notes.save", "notes", "save")

	assert.Equal(t, []string{"notes.save", "refresh-weather", "weather.clear"}, h.ListActions())
	assert.Equal(t, []string{"refresh-weather", "weather.clear"}, h.ListPluginActions("weather"))
	assert.True(t, h.CanHandle("weather.clear"))

	res := h.Handle(ctx, Action{Name: "refresh-weather"})
	require.NoError(t, res.Err)
	assert.Equal(t, "refreshed", res.Message)

	res = h.Handle(ctx, Action{Name: "weather.clear"})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"weather/refresh", "weather/clear"}, target.calls)

	res = h.Handle(ctx, Action{Name: "unknown"})
	assert.ErrorContains(t, res.Err, "no plugin handler")

	assert.Equal(t, 2, h.UnregisterPlugin("weather"))
	h.Unregister("notes.save")
	assert.Empty(t, h.ListActions())
}

func TestRouter(t *testing.T) {
	target := newFakeTarget()
	boom := errors.New("boom")
	target.add("weather", "refresh", returns("stale"))
	target.add("weather", "fail", func(...any) (any, error) { return nil, boom })
	r := NewRouter(target)
	ctx := context.Background()
	r.Actions().Register("plugin.weather.refresh", "weather", "fail")

	res := r.Dispatch(ctx, Action{Name: "plugin.weather.refresh"})
	assert.ErrorIs(t, res.Err, boom)

	r.Actions().Unregister("plugin.weather.refresh")
	res = r.Dispatch(ctx, Action{Name: "plugin.weather.refresh"})
	assert.EqualError(t, res.Err, "stale")

	res = r.Dispatch(ctx, Action{Name: "nothing"})
	assert.ErrorContains(t, res.Err, "unknown action")
}
