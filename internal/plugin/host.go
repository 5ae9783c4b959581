package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/api"
	"github.com/dshills/plughost/internal/plugin/association"
	"github.com/dshills/plughost/internal/plugin/js"
	"github.com/dshills/plughost/internal/plugin/library"
	"github.com/dshills/plughost/internal/plugin/lua"
	"github.com/dshills/plughost/internal/plugin/script"
	"github.com/dshills/plughost/internal/plugin/settings"
)

// DirResolver locates the writable directory of a plugin in a profile.
type DirResolver interface {
	PluginConfigDir(profileID, pluginID string) string
}

// DirFunc adapts a function to DirResolver.
type DirFunc func(profileID, pluginID string) string

// PluginConfigDir calls f.
func (f DirFunc) PluginConfigDir(profileID, pluginID string) string {
	return f(profileID, pluginID)
}

// ProfileLookup returns display information for a profile id.
type ProfileLookup func(profileID string) api.Profile

// Options configure a Host.
type Options struct {
	Library      *library.Library   // required
	Associations *association.Index // required
	Dirs         DirResolver        // required

	// Engines maps entry script extensions to engines. Nil registers the
	// Lua and JavaScript engines.
	Engines *script.Registry

	// Profiles resolves profile names. Nil uses the id as the name.
	Profiles ProfileLookup

	Providers    api.Providers
	HTTPClient   *http.Client
	AllowedHosts []string
	BlockedHosts []string

	// Timeout is the budget of each script call; Grace the extra wait for
	// calls that do not stop.
	Timeout time.Duration
	Grace   time.Duration

	// QueueSize bounds the pending calls of each script context.
	QueueSize int

	Logger zerolog.Logger
}

// Host loads the plugins of the active profile and routes host events to
// them.
type Host struct {
	opts    Options
	engines *script.Registry
	log     zerolog.Logger

	// lifecycle serializes profile switches and plugin load, unload and
	// reload. Event handlers run while it is held and must not call back
	// into those operations.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	profile   string
	plugins   map[string]*Plugin
	loadOrder []string
	failures  map[string]error
	handlers  []EventHandler
	providers api.Providers
}

// DefaultEngines returns a registry with the Lua and JavaScript engines.
func DefaultEngines(log zerolog.Logger) *script.Registry {
	r := script.NewRegistry()
	r.Register("lua", lua.Factory(lua.WithLogger(log)))
	r.Register("js", js.Factory(js.WithLogger(log)))
	return r
}

// New creates a host. No plugin runs until LoadPluginsForProfile.
func New(opts Options) (*Host, error) {
	switch {
	case opts.Library == nil:
		return nil, errors.New("plugin: library is required")
	case opts.Associations == nil:
		return nil, errors.New("plugin: association index is required")
	case opts.Dirs == nil:
		return nil, errors.New("plugin: directory resolver is required")
	}

	log := opts.Logger.With().
		Str("component", "host").
		Str("session", uuid.NewString()).
		Logger()

	engines := opts.Engines
	if engines == nil {
		engines = DefaultEngines(log)
	}
	if opts.Profiles == nil {
		opts.Profiles = func(id string) api.Profile { return api.Profile{ID: id, Name: id} }
	}

	return &Host{
		opts:      opts,
		engines:   engines,
		log:       log,
		plugins:   make(map[string]*Plugin),
		failures:  make(map[string]error),
		providers: opts.Providers,
	}, nil
}

// ActiveProfile returns the profile whose plugins are loaded.
func (h *Host) ActiveProfile() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.profile
}

// Plugins returns the running plugins in load order.
func (h *Host) Plugins() []*Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Plugin, 0, len(h.loadOrder))
	for _, id := range h.loadOrder {
		out = append(out, h.plugins[id])
	}
	return out
}

// Plugin returns a running plugin.
func (h *Host) Plugin(id string) (*Plugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[id]
	return p, ok
}

// Failures returns the plugins that failed to load for the active
// profile.
func (h *Host) Failures() map[string]error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]error, len(h.failures))
	for k, v := range h.failures {
		out[k] = v
	}
	return out
}

// SetProviders replaces the host collaborators for running and future
// plugins.
func (h *Host) SetProviders(p api.Providers) {
	h.mu.Lock()
	h.providers = p
	h.mu.Unlock()
	for _, pl := range h.Plugins() {
		pl.registry.Attach(p)
	}
}

// LoadPluginsForProfile unloads every plugin, then loads the enabled and
// installed plugins associated with profileID. Per-plugin failures are
// recorded in Failures and joined into the returned error; they never stop
// other plugins from loading.
func (h *Host) LoadPluginsForProfile(ctx context.Context, profileID string) error {
	if profileID == "" {
		return ErrNoProfile
	}
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	unloadErr := h.unloadAll(ctx)

	h.mu.Lock()
	h.profile = profileID
	h.failures = make(map[string]error)
	h.mu.Unlock()

	log := h.log.With().Str("profile", profileID).Logger()
	ids := h.opts.Associations.EnabledPlugins(profileID)
	log.Info().Int("candidates", len(ids)).Msg("Loading plugins for profile")

	var errs []error
	if unloadErr != nil {
		errs = append(errs, unloadErr)
	}
	loaded := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !h.opts.Library.IsInstalled(id) {
			log.Warn().Str("plugin", id).Msg("Associated plugin is not installed")
			continue
		}
		p, err := h.loadPlugin(ctx, profileID, id)
		if errors.Is(err, ErrPluginDisabled) {
			log.Debug().Str("plugin", id).Msg("Plugin disabled in profile config")
			continue
		}
		if err != nil {
			h.recordFailure(id, err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		h.register(p)
		loaded++
	}

	log.Info().Int("loaded", loaded).Int("failed", len(errs)).Msg("Profile plugins loaded")
	return errors.Join(errs...)
}

func (h *Host) recordFailure(id string, err error) {
	h.mu.Lock()
	h.failures[id] = err
	profile := h.profile
	h.mu.Unlock()

	h.log.Error().Err(err).Str("plugin", id).Str("profile", profile).Msg("Plugin failed to load")
	h.emit(Event{Type: EventPluginError, PluginID: id, ProfileID: profile, Error: err})
}

// register adds a loaded plugin. A plugin already running under the same
// id is replaced and unloaded.
func (h *Host) register(p *Plugin) {
	h.mu.Lock()
	old := h.plugins[p.ID()]
	h.plugins[p.ID()] = p
	if old == nil {
		h.loadOrder = append(h.loadOrder, p.ID())
	}
	delete(h.failures, p.ID())
	h.mu.Unlock()

	if old != nil {
		h.teardown(context.Background(), old)
	}
	h.emit(Event{Type: EventPluginLoaded, PluginID: p.ID(), ProfileID: p.profileID})
}

// loadPlugin materializes one plugin: manifest, settings with defaults,
// capabilities and script context, then runs the script and onLoad. It
// returns ErrPluginDisabled when the profile config disables the plugin.
func (h *Host) loadPlugin(ctx context.Context, profileID, id string) (*Plugin, error) {
	m, err := h.opts.Library.Manifest(id)
	if err != nil {
		return nil, err
	}
	sourceDir := h.opts.Library.PluginDir(id)
	configDir := h.opts.Dirs.PluginConfigDir(profileID, id)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, settings.FileName)
	store := settings.LoadFromFile(configPath, id)
	if !store.Enabled() {
		return nil, ErrPluginDisabled
	}
	if n := store.ApplyDefaults(m.DefaultConfig); n > 0 || !fileExists(configPath) {
		if err := store.SaveToFile(configPath); err != nil {
			return nil, err
		}
	}

	log := h.log.With().Str("plugin", id).Str("profile", profileID).Logger()
	store.OnChange(func(path string, _ any) {
		if err := store.SaveToFile(configPath); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to persist plugin setting")
		}
	})

	mainPath, err := m.MainPath(sourceDir)
	if err != nil {
		return nil, err
	}
	factory, err := h.engines.Factory(m.Engine())
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	providers := h.providers
	h.mu.RUnlock()

	registry, err := api.New(api.Options{
		Manifest:     m,
		Profile:      h.opts.Profiles(profileID),
		ConfigDir:    configDir,
		Settings:     store,
		Logger:       log,
		Providers:    providers,
		HTTPClient:   h.opts.HTTPClient,
		AllowedHosts: h.opts.AllowedHosts,
		BlockedHosts: h.opts.BlockedHosts,
	})
	if err != nil {
		return nil, err
	}

	sc := script.New(script.Options{
		PluginID:  id,
		SourceDir: sourceDir,
		ConfigDir: configDir,
		MainPath:  mainPath,
		Factory:   factory,
		Globals:   map[string]any{"api": registry.Namespace()},
		Timeout:   h.opts.Timeout,
		Grace:     h.opts.Grace,
		QueueSize: h.opts.QueueSize,
		Logger:    h.log.With().Str("profile", profileID).Logger(),
	})
	p := &Plugin{
		manifest:  m,
		profileID: profileID,
		sourceDir: sourceDir,
		configDir: configDir,
		settings:  store,
		registry:  registry,
		script:    sc,
	}

	if err := sc.LoadScript(ctx); err != nil {
		h.dispose(p)
		return nil, err
	}
	if err := sc.CallOnLoad(ctx); err != nil {
		h.dispose(p)
		return nil, err
	}

	log.Info().Str("version", m.Version).Strs("permissions", m.Permissions).Msg("Plugin loaded")
	return p, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// dispose releases a plugin without calling onUnload.
func (h *Host) dispose(p *Plugin) {
	if err := p.registry.Close(); err != nil {
		h.log.Warn().Err(err).Str("plugin", p.ID()).Msg("Failed to close capabilities")
	}
	p.script.Dispose()
}

// teardown runs onUnload and releases the plugin.
func (h *Host) teardown(ctx context.Context, p *Plugin) error {
	err := p.script.CallOnUnload(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("plugin", p.ID()).Msg("onUnload failed")
	}
	h.dispose(p)
	h.emit(Event{Type: EventPluginUnloaded, PluginID: p.ID(), ProfileID: p.profileID})
	return err
}

// unregister removes a plugin from the bookkeeping.
func (h *Host) unregister(id string) (*Plugin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.plugins[id]
	if !ok {
		return nil, false
	}
	delete(h.plugins, id)
	h.loadOrder = slices.DeleteFunc(h.loadOrder, func(n string) bool { return n == id })
	return p, true
}

// removePlugin stops one running plugin under the lifecycle lock.
func (h *Host) removePlugin(ctx context.Context, id string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.unloadPlugin(ctx, id)
}

// unloadPlugin stops one running plugin.
func (h *Host) unloadPlugin(ctx context.Context, id string) error {
	p, ok := h.unregister(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	return h.teardown(ctx, p)
}

// UnloadAllPlugins unloads every plugin in reverse load order and clears
// the active profile. Failing onUnload hooks are reported but every plugin
// is released.
func (h *Host) UnloadAllPlugins(ctx context.Context) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.unloadAll(ctx)
}

func (h *Host) unloadAll(ctx context.Context) error {
	h.mu.Lock()
	names := slices.Clone(h.loadOrder)
	h.profile = ""
	h.mu.Unlock()
	slices.Reverse(names)

	var errs []error
	for _, id := range names {
		if err := h.unloadPlugin(ctx, id); err != nil && !errors.Is(err, ErrPluginNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// EnablePlugin marks pluginID enabled in profileID's config. When
// profileID is active and the plugin is associated, enabled and
// installed, it is loaded.
func (h *Host) EnablePlugin(ctx context.Context, profileID, pluginID string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if err := h.persistEnabled(profileID, pluginID, true); err != nil {
		return err
	}
	if h.ActiveProfile() != profileID {
		return nil
	}
	if _, running := h.Plugin(pluginID); running {
		return nil
	}
	entry, ok := h.opts.Associations.Entry(profileID, pluginID)
	if !ok || !entry.Enabled {
		return nil
	}
	if !h.opts.Library.IsInstalled(pluginID) {
		return fmt.Errorf("plugin %q: %w", pluginID, ErrNotInstalled)
	}

	p, err := h.loadPlugin(ctx, profileID, pluginID)
	if err != nil {
		h.recordFailure(pluginID, err)
		return err
	}
	h.register(p)
	return nil
}

// DisablePlugin marks pluginID disabled in profileID's config and unloads
// it when profileID is active.
func (h *Host) DisablePlugin(ctx context.Context, profileID, pluginID string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if err := h.persistEnabled(profileID, pluginID, false); err != nil {
		return err
	}
	if h.ActiveProfile() != profileID {
		return nil
	}
	if err := h.unloadPlugin(ctx, pluginID); err != nil && !errors.Is(err, ErrPluginNotFound) {
		return err
	}
	return nil
}

func (h *Host) persistEnabled(profileID, pluginID string, enabled bool) error {
	if p, ok := h.Plugin(pluginID); ok && p.profileID == profileID {
		p.settings.SetEnabled(enabled)
		p.script.SetEnabled(enabled)
		return p.settings.SaveToFile(filepath.Join(p.configDir, settings.FileName))
	}
	path := filepath.Join(h.opts.Dirs.PluginConfigDir(profileID, pluginID), settings.FileName)
	store := settings.LoadFromFile(path, pluginID)
	if store.Enabled() == enabled && fileExists(path) {
		return nil
	}
	store.SetEnabled(enabled)
	return store.SaveToFile(path)
}

// ReloadPlugin unloads and loads a running plugin with the same config
// directory. It is a no-op when the plugin is not running.
func (h *Host) ReloadPlugin(ctx context.Context, pluginID string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	p, ok := h.unregister(pluginID)
	if !ok {
		return nil
	}
	profileID := p.profileID
	if err := h.teardown(ctx, p); err != nil {
		h.log.Warn().Err(err).Str("plugin", pluginID).Msg("Unload during reload failed")
	}

	np, err := h.loadPlugin(ctx, profileID, pluginID)
	if err != nil {
		h.recordFailure(pluginID, err)
		return fmt.Errorf("reload %s: %w", pluginID, err)
	}
	h.register(np)
	h.log.Info().Str("plugin", pluginID).Msg("Plugin reloaded")
	h.emit(Event{Type: EventPluginReloaded, PluginID: pluginID, ProfileID: profileID})
	return nil
}
