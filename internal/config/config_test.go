package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Runtime.Timeout.Std())
	assert.Equal(t, time.Second, cfg.Runtime.Grace.Std())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Paths.DataDir)
}

func TestPaths(t *testing.T) {
	p := Paths{DataDir: "/data"}
	assert.Equal(t, "/data/plugins", p.PluginsDir())
	assert.Equal(t, "/data/builtin", p.BuiltinDir())
	assert.Equal(t, "/data/profiles", p.ProfilesDir())
	assert.Equal(t, "/data/associations.json", p.AssociationsFile())
	assert.Equal(t, "/data/profiles/work/plugins/weather", p.PluginConfigDir("work", "weather"))

	p.Plugins = "/opt/plugins"
	assert.Equal(t, "/opt/plugins", p.PluginsDir())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Runtime, cfg.Runtime)
}

func TestLoadTOMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[paths]
dataDir = "`+filepath.ToSlash(dir)+`"

[runtime]
timeout = "2s"
queueSize = 4

[log]
level = "warn"

[network]
blockedHosts = ["evil.example"]

[actions]
refresh = "weather.refresh"
`), 0o644))
	t.Setenv("PLUGHOST_LOG_LEVEL", "debug")
	t.Setenv("PLUGHOST_RUNTIME_GRACE", "300ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Paths.DataDir)
	assert.Equal(t, 2*time.Second, cfg.Runtime.Timeout.Std())
	assert.Equal(t, 300*time.Millisecond, cfg.Runtime.Grace.Std())
	assert.Equal(t, 4, cfg.Runtime.QueueSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, []string{"evil.example"}, cfg.Network.BlockedHosts)
	assert.Equal(t, map[string]string{"refresh": "weather.refresh"}, cfg.Actions)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
watch:
  enabled: true
  debounce: 1s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, time.Second, cfg.Watch.Debounce.Std())
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[runtime]
timeout = "0s"

[log]
level = "loud"

[actions]
broken = "nofunction"
`), 0o644))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runtime]\ntimeout = \"soon\"\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Std())
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))

	out, err := Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
