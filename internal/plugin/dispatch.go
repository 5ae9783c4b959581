package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/plughost/internal/plugin/script"
	"github.com/dshills/plughost/internal/plugin/settings"
)

// fanOut runs deliver for every plugin on its own goroutine. Each call
// gets its own script budget from the plugin's context. It returns the
// number of deliveries that reported true and the joined failures.
func (h *Host) fanOut(ctx context.Context, op string, targets []*Plugin, deliver func(context.Context, *Plugin) (bool, error)) (int, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		errs      []error
	)
	for _, p := range targets {
		wg.Add(1)
		go func(p *Plugin) {
			defer wg.Done()
			var ok bool
			err := p.script.Run(ctx, op, func(ctx context.Context) error {
				var err error
				ok, err = deliver(ctx, p)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.log.Warn().Err(err).Str("plugin", p.ID()).Str("op", op).Msg("Plugin delivery failed")
				errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
				return
			}
			if ok {
				delivered++
			}
		}(p)
	}
	wg.Wait()
	return delivered, errors.Join(errs...)
}

// eligible returns loaded, enabled plugins accepted by keep.
func (h *Host) eligible(keep func(*Plugin) bool) []*Plugin {
	var out []*Plugin
	for _, p := range h.Plugins() {
		if p.IsLoaded() && p.IsEnabled() && keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// BroadcastEvent delivers an event to every loaded, enabled plugin holding
// the events permission and listening for name. Deliveries run
// concurrently with independent budgets. It returns the number of plugins
// whose listeners all succeeded.
func (h *Host) BroadcastEvent(ctx context.Context, name string, data any) (int, error) {
	targets := h.eligible(func(p *Plugin) bool {
		ev := p.registry.Events()
		return ev != nil && ev.ListenerCount(name) > 0
	})
	if len(targets) == 0 {
		return 0, nil
	}
	h.log.Debug().Str("event", name).Int("targets", len(targets)).Msg("Broadcasting event")

	return h.fanOut(ctx, "event:"+name, targets, func(ctx context.Context, p *Plugin) (bool, error) {
		_, err := p.registry.Events().Emit(ctx, name, data)
		return err == nil, err
	})
}

// HandleUtterance routes recognized speech to plugins holding the audio
// permission. Blank text is ignored. It returns the number of plugins with
// at least one matching listener.
func (h *Host) HandleUtterance(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	targets := h.eligible(func(p *Plugin) bool { return p.registry.Speech() != nil })
	if len(targets) == 0 {
		return 0, nil
	}

	return h.fanOut(ctx, "speech", targets, func(ctx context.Context, p *Plugin) (bool, error) {
		n, err := p.registry.Speech().HandleUtterance(ctx, text)
		return n > 0 && err == nil, err
	})
}

// Invoke calls a named script function of a running plugin. A function
// the script does not define returns nil, nil.
func (h *Host) Invoke(ctx context.Context, pluginID, fn string, args ...any) (any, error) {
	p, ok := h.Plugin(pluginID)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", pluginID, ErrPluginNotFound)
	}
	if !p.IsLoaded() {
		return nil, fmt.Errorf("plugin %q: %w", pluginID, ErrNotLoaded)
	}
	return p.script.InvokeFunction(ctx, fn, args...)
}

// HasFunction reports whether a running plugin defines fn.
func (h *Host) HasFunction(ctx context.Context, pluginID, fn string) bool {
	p, ok := h.Plugin(pluginID)
	return ok && p.script.HasFunction(ctx, fn)
}

// SetPluginSetting changes a plugin setting in the active profile and
// persists it. A running plugin is told through onConfigChanged(path,
// value); the setting is kept even when the hook fails.
func (h *Host) SetPluginSetting(ctx context.Context, pluginID, path string, value any) error {
	p, running := h.Plugin(pluginID)
	if !running {
		profile := h.ActiveProfile()
		if profile == "" {
			return ErrNoProfile
		}
		file := filepath.Join(h.opts.Dirs.PluginConfigDir(profile, pluginID), settings.FileName)
		store := settings.LoadFromFile(file, pluginID)
		if err := store.Set(path, value); err != nil {
			return err
		}
		return store.SaveToFile(file)
	}

	// The store persists itself on change.
	if err := p.settings.Set(path, value); err != nil {
		return err
	}
	if !p.IsLoaded() {
		return nil
	}
	v, _ := p.settings.Value(path)
	if _, err := p.script.InvokeFunction(ctx, script.HookConfigChanged, path, v); err != nil {
		return fmt.Errorf("%s: %w", script.HookConfigChanged, err)
	}
	return nil
}
