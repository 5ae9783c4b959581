package api

import (
	"context"

	"github.com/dshills/plughost/internal/plugin/script"
	"github.com/dshills/plughost/internal/plugin/settings"
)

// Config is the read-only view of a plugin's settings. Scripts cannot
// mutate settings; the host does through the settings store.
type Config struct {
	store *settings.Store
}

// NewConfig creates the config capability. A nil store behaves as empty.
func NewConfig(store *settings.Store) *Config {
	if store == nil {
		store = settings.New("")
	}
	return &Config{store: store}
}

// Get returns the value at a dot-separated path, or def when absent.
func (c *Config) Get(path string, def any) any {
	if v, ok := c.store.Value(path); ok {
		return v
	}
	return def
}

// Has reports whether path exists.
func (c *Config) Has(path string) bool {
	return c.store.ContainsKey(path)
}

// Keys returns the top-level keys.
func (c *Config) Keys() []string {
	return c.store.Keys()
}

// Enabled reports the plugin's enabled flag in this profile.
func (c *Config) Enabled() bool {
	return c.store.Enabled()
}

func (c *Config) namespace() script.Object {
	return script.Object{
		"get": script.Func(func(_ context.Context, args []any) (any, error) {
			return c.Get(script.StringArg(args, 0, ""), script.Arg(args, 1)), nil
		}),
		"has": script.Func(func(_ context.Context, args []any) (any, error) {
			return c.Has(script.StringArg(args, 0, "")), nil
		}),
		"keys": script.Func(func(context.Context, []any) (any, error) {
			return toAnySlice(c.Keys()), nil
		}),
	}
}
