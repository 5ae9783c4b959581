package api

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/script"
)

// Core is the always-available logging and identity capability.
type Core struct {
	pluginID string
	log      zerolog.Logger
}

// NewCore creates the core capability for a plugin.
func NewCore(pluginID string, log zerolog.Logger) *Core {
	return &Core{pluginID: pluginID, log: log}
}

// PluginID returns the plugin identifier.
func (c *Core) PluginID() string {
	return c.pluginID
}

// Log writes msg at the named level. Unknown levels log at info.
func (c *Core) Log(level, msg string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	c.log.WithLevel(lvl).Str("source", "script").Msg(msg)
}

func (c *Core) namespace() script.Object {
	at := func(level string) script.Func {
		return func(_ context.Context, args []any) (any, error) {
			c.Log(level, joinArgs(args))
			return nil, nil
		}
	}
	return script.Object{
		"log": script.Func(func(_ context.Context, args []any) (any, error) {
			c.Log(script.StringArg(args, 0, "info"), joinArgs(args[min(1, len(args)):]))
			return nil, nil
		}),
		"debug": at("debug"),
		"info":  at("info"),
		"warn":  at("warn"),
		"error": at("error"),
		"pluginId": script.Func(func(context.Context, []any) (any, error) {
			return c.pluginID, nil
		}),
	}
}
