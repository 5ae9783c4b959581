package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetNested(t *testing.T) {
	s := New("p")

	require.NoError(t, s.Set("overlay.position.x", 12))
	require.NoError(t, s.Set("overlay.position.y", 4.5))
	require.NoError(t, s.Set("overlay.label", "hello"))
	require.NoError(t, s.Set("overlay.visible", false))

	assert.Equal(t, 12, Get(s, "overlay.position.x", 0))
	assert.Equal(t, 4.5, Get(s, "overlay.position.y", 0.0))
	assert.Equal(t, "hello", Get(s, "overlay.label", ""))
	assert.Equal(t, false, Get(s, "overlay.visible", true))

	assert.Equal(t, int64(12), s.GetInt("overlay.position.x", -1))
	assert.Equal(t, 4.5, s.GetFloat("overlay.position.y", -1))
	assert.Equal(t, "hello", s.GetString("overlay.label", ""))
	assert.False(t, s.GetBool("overlay.visible", true))

	pos := Get[map[string]any](s, "overlay.position", nil)
	assert.Equal(t, map[string]any{"x": 12.0, "y": 4.5}, pos)
}

func TestGetDefaults(t *testing.T) {
	s := New("p")
	require.NoError(t, s.Set("name", "x"))

	assert.Equal(t, 7, Get(s, "missing", 7))
	assert.Equal(t, 7, Get(s, "missing.deeper.still", 7))
	assert.Equal(t, 7, Get(s, "name", 7), "type mismatch falls back to default")
	assert.Equal(t, "d", s.GetString("name.sub", "d"))
	assert.Equal(t, int64(3), s.GetInt("name", 3))

	_, ok := s.Value("missing")
	assert.False(t, ok)
	assert.False(t, s.ContainsKey(""))
}

func TestSetRejectsBadPaths(t *testing.T) {
	s := New("p")
	for _, p := range []string{"", ".", "a..b", "a.", ".a"} {
		assert.ErrorIs(t, s.Set(p, 1), ErrInvalidPath, p)
	}
}

func TestSetReplacesScalarIntermediate(t *testing.T) {
	s := New("p")
	require.NoError(t, s.Set("a", "scalar"))
	require.NoError(t, s.Set("a.b", 1))

	assert.Equal(t, 1, Get(s, "a.b", 0))
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}}, s.Snapshot())
}

func TestNumericAndSpecialSegments(t *testing.T) {
	s := New("p")
	require.NoError(t, s.Set("list.0", "first"))
	require.NoError(t, s.Set("weird.a*b", "star"))
	require.NoError(t, s.Set("weird.q?", "question"))

	assert.Equal(t, "first", s.GetString("list.0", ""))
	assert.Equal(t, "star", s.GetString("weird.a*b", ""))
	assert.Equal(t, "question", s.GetString("weird.q?", ""))
	assert.Equal(t, map[string]any{"0": "first"}, Get[map[string]any](s, "list", nil))
}

func TestRemove(t *testing.T) {
	s := New("p")
	require.NoError(t, s.Set("a.b", 1))
	require.NoError(t, s.Set("a.c", 2))

	require.NoError(t, s.Remove("a.b"))
	assert.False(t, s.ContainsKey("a.b"))
	assert.True(t, s.ContainsKey("a.c"))

	require.NoError(t, s.Remove("a.b"))
	require.NoError(t, s.Remove("nope.nothing"))
}

func TestKeysInsertionOrder(t *testing.T) {
	s := New("p")
	require.NoError(t, s.Set("zeta", 1))
	require.NoError(t, s.Set("alpha", 2))
	require.NoError(t, s.Set("mid.x", 3))

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, s.Keys())
}

func TestApplyDefaults(t *testing.T) {
	s := New("p")
	require.NoError(t, s.Set("feature", false))
	require.NoError(t, s.Set("count", 0))

	filled := s.ApplyDefaults(map[string]any{
		"feature": true,
		"count":   10,
		"label":   "default",
		"nested":  map[string]any{"x": 1},
	})

	assert.Equal(t, 2, filled)
	assert.False(t, s.GetBool("feature", true))
	assert.Equal(t, int64(0), s.GetInt("count", -1))
	assert.Equal(t, "default", s.GetString("label", ""))
	assert.Equal(t, int64(1), s.GetInt("nested.x", 0))

	assert.Equal(t, 0, s.ApplyDefaults(map[string]any{"label": "other"}))
	assert.Equal(t, 0, s.ApplyDefaults(nil))
}

func TestOnChange(t *testing.T) {
	s := New("p")

	var paths []string
	var values []any
	s.OnChange(func(path string, value any) {
		paths = append(paths, path)
		values = append(values, value)
	})

	require.NoError(t, s.Set("a.b", "v"))
	require.NoError(t, s.Remove("a.b"))
	require.NoError(t, s.Remove("a.b"))

	assert.Equal(t, []string{"a.b", "a.b"}, paths)
	assert.Equal(t, []any{"v", nil}, values)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile", "plugin", FileName)

	s := New("demo")
	s.SetEnabled(false)
	require.NoError(t, s.Set("name", "x"))
	require.NoError(t, s.Set("count", 42))
	require.NoError(t, s.Set("big", int64(9007199254740993)))
	require.NoError(t, s.Set("ratio", 0.25))
	require.NoError(t, s.Set("flag", true))
	require.NoError(t, s.Set("nested.deep.v", "y"))
	require.NoError(t, s.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "\n  \"pluginId\": \"demo\""))

	loaded := LoadFromFile(path, "demo")
	assert.False(t, loaded.Enabled())
	assert.Equal(t, "x", loaded.GetString("name", ""))
	assert.Equal(t, 42, Get(loaded, "count", 0))
	assert.Equal(t, int64(9007199254740993), Get(loaded, "big", int64(0)))
	assert.Equal(t, 0.25, loaded.GetFloat("ratio", 0))
	assert.True(t, loaded.GetBool("flag", false))
	assert.Equal(t, "y", loaded.GetString("nested.deep.v", ""))
	assert.Equal(t, s.Snapshot(), loaded.Snapshot())
}

func TestLoadFromFileFallbacks(t *testing.T) {
	dir := t.TempDir()

	missing := LoadFromFile(filepath.Join(dir, "none.json"), "p")
	assert.True(t, missing.Enabled())
	assert.Empty(t, missing.Keys())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	malformed := LoadFromFile(bad, "p")
	assert.True(t, malformed.Enabled())
	assert.Empty(t, malformed.Keys())
	assert.Equal(t, "p", malformed.PluginID())

	arr := filepath.Join(dir, "arr.json")
	require.NoError(t, os.WriteFile(arr, []byte(`{"pluginId":"p","settings":[1,2]}`), 0o644))
	assert.Empty(t, LoadFromFile(arr, "p").Keys())
}
