package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the host configuration.
type Config struct {
	Paths   Paths   `json:"paths"`
	Runtime Runtime `json:"runtime"`
	Network Network `json:"network"`
	Log     Log     `json:"log"`
	Watch   Watch   `json:"watch"`

	// Actions maps action aliases to "<plugin>.<function>".
	Actions map[string]string `json:"actions"`
}

// Paths locates host data on disk.
type Paths struct {
	// DataDir is the root for everything not set explicitly.
	DataDir string `json:"dataDir"`
	// Plugins holds installed packages and the library index.
	Plugins string `json:"plugins"`
	// Builtin holds packages shipped with the host.
	Builtin string `json:"builtin"`
	// Profiles holds per-profile plugin config directories.
	Profiles string `json:"profiles"`
}

// Runtime configures script execution.
type Runtime struct {
	Timeout     Duration `json:"timeout"`
	Grace       Duration `json:"grace"`
	QueueSize   int      `json:"queueSize"`
	HostVersion string   `json:"hostVersion"`
}

// Network configures the network capability.
type Network struct {
	Timeout      Duration `json:"timeout"`
	AllowedHosts []string `json:"allowedHosts"`
	BlockedHosts []string `json:"blockedHosts"`
}

// Log configures logging.
type Log struct {
	Level   string `json:"level"`
	File    string `json:"file"`
	Console bool   `json:"console"`
	Pretty  bool   `json:"pretty"`
}

// Watch configures library hot reload.
type Watch struct {
	Enabled  bool     `json:"enabled"`
	Debounce Duration `json:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: Paths{DataDir: defaultDataDir()},
		Runtime: Runtime{
			Timeout:     Duration(5 * time.Second),
			Grace:       Duration(time.Second),
			QueueSize:   16,
			HostVersion: "1.0.0",
		},
		Network: Network{Timeout: Duration(10 * time.Second)},
		Log: Log{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Watch: Watch{Debounce: Duration(250 * time.Millisecond)},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "plughost")
	}
	return ".plughost"
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var problems []string
	if c.Paths.DataDir == "" {
		problems = append(problems, "paths.dataDir must not be empty")
	}
	if c.Runtime.Timeout <= 0 {
		problems = append(problems, "runtime.timeout must be positive")
	}
	if c.Runtime.Grace < 0 {
		problems = append(problems, "runtime.grace must not be negative")
	}
	if c.Runtime.QueueSize < 0 {
		problems = append(problems, "runtime.queueSize must not be negative")
	}
	if c.Network.Timeout < 0 {
		problems = append(problems, "network.timeout must not be negative")
	}
	if c.Watch.Debounce < 0 {
		problems = append(problems, "watch.debounce must not be negative")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q is not a level", c.Log.Level))
	}
	for alias, target := range c.Actions {
		if id, fn, ok := strings.Cut(target, "."); !ok || id == "" || fn == "" {
			problems = append(problems, fmt.Sprintf("actions.%s: %q is not <plugin>.<function>", alias, target))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (p Paths) orData(dir, name string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(p.DataDir, name)
}

// PluginsDir returns the library directory.
func (p Paths) PluginsDir() string { return p.orData(p.Plugins, "plugins") }

// BuiltinDir returns the built-in packages directory.
func (p Paths) BuiltinDir() string { return p.orData(p.Builtin, "builtin") }

// ProfilesDir returns the root of the per-profile directories.
func (p Paths) ProfilesDir() string { return p.orData(p.Profiles, "profiles") }

// AssociationsFile returns the association index path.
func (p Paths) AssociationsFile() string { return filepath.Join(p.DataDir, "associations.json") }

// PluginConfigDir returns the writable directory of pluginID in
// profileID.
func (p Paths) PluginConfigDir(profileID, pluginID string) string {
	return filepath.Join(p.ProfilesDir(), profileID, "plugins", pluginID)
}

// Duration is a time.Duration read from a Go duration string or a number
// of nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration in Go syntax.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "1.5s" or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}
