package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/script"
	"github.com/dshills/plughost/internal/plugin/security"
	"github.com/dshills/plughost/internal/plugin/settings"
)

// Options configure a Registry.
type Options struct {
	// Manifest supplies the plugin id and declared permissions. Required.
	Manifest *manifest.Manifest

	// Profile the plugin runs in.
	Profile Profile

	// ConfigDir is the plugin's writable directory for this profile.
	ConfigDir string

	// Settings is the plugin config store. Nil means empty.
	Settings *settings.Store

	// Logger receives plugin logs. It should carry plugin fields.
	Logger zerolog.Logger

	// Providers are the optional host collaborators.
	Providers Providers

	// HTTPClient overrides the network client.
	HTTPClient *http.Client

	// Host allow and block lists for the network capability.
	AllowedHosts []string
	BlockedHosts []string
}

// Registry is the capability set of one plugin instance.
type Registry struct {
	checker *security.PermissionChecker
	profile Profile
	log     zerolog.Logger

	core   *Core
	config *Config

	speech  *Speech
	overlay *Overlay
	player  *Player
	window  *Window
	storage *Storage
	http    *HTTP
	events  *Events

	closeOnce sync.Once
}

// New builds the registry. Gated capabilities are created only for
// declared permissions.
func New(opts Options) (*Registry, error) {
	if opts.Manifest == nil {
		return nil, errors.New("api: manifest is required")
	}
	m := opts.Manifest
	checker := security.NewPermissionChecker(m.ID, m.Permissions)
	for _, h := range opts.AllowedHosts {
		checker.AllowHost(h)
	}
	for _, h := range opts.BlockedHosts {
		checker.BlockHost(h)
	}

	r := &Registry{
		checker: checker,
		profile: opts.Profile,
		log:     opts.Logger,
		core:    NewCore(m.ID, opts.Logger),
		config:  NewConfig(opts.Settings),
	}

	has := func(p security.Permission) bool { return checker.HasPermission(string(p)) }
	if has(security.PermissionAudio) {
		r.speech = NewSpeech(opts.Providers.Speech, opts.Logger)
	}
	if has(security.PermissionOverlay) {
		r.overlay = NewOverlay(m.ID, opts.Providers.Overlay)
	}
	if has(security.PermissionPlayer) {
		r.player = NewPlayer(opts.Providers.Player)
	}
	if has(security.PermissionWindow) {
		r.window = NewWindow(opts.Providers.Window)
	}
	if has(security.PermissionStorage) {
		if opts.ConfigDir == "" {
			return nil, errors.New("api: storage permission requires a config directory")
		}
		r.storage = NewStorage(opts.ConfigDir, opts.Logger)
	}
	if has(security.PermissionNetwork) {
		r.http = NewHTTP(opts.HTTPClient, checker, opts.Logger)
	}
	if has(security.PermissionEvents) {
		r.events = NewEvents(opts.Logger)
	}
	return r, nil
}

// PluginID returns the owning plugin id.
func (r *Registry) PluginID() string { return r.checker.PluginID() }

// HasPermission reports whether name was declared (case-insensitive).
func (r *Registry) HasPermission(name string) bool {
	return r.checker.HasPermission(name)
}

// RequirePermission returns a *security.PermissionDeniedError when name
// was not declared.
func (r *Registry) RequirePermission(name string) error {
	return r.checker.RequirePermission(name)
}

// Permissions returns the declared permissions, sorted.
func (r *Registry) Permissions() []security.Permission {
	return r.checker.Permissions()
}

// Always available.

func (r *Registry) Core() *Core      { return r.core }
func (r *Registry) Config() *Config  { return r.config }
func (r *Registry) Profile() Profile { return r.profile }

// Gated; nil when the permission is missing.

func (r *Registry) Speech() *Speech   { return r.speech }
func (r *Registry) Overlay() *Overlay { return r.overlay }
func (r *Registry) Player() *Player   { return r.player }
func (r *Registry) Window() *Window   { return r.window }
func (r *Registry) Storage() *Storage { return r.storage }
func (r *Registry) HTTP() *HTTP       { return r.http }
func (r *Registry) Events() *Events   { return r.events }

// Attach swaps the providers of present capabilities.
func (r *Registry) Attach(p Providers) {
	if r.speech != nil {
		r.speech.Attach(p.Speech)
	}
	if r.overlay != nil {
		r.overlay.Attach(p.Overlay)
	}
	if r.player != nil {
		r.player.Attach(p.Player)
	}
	if r.window != nil {
		r.window.Attach(p.Window)
	}
}

// Namespace builds the script-visible api object. Members for undeclared
// permissions are absent.
func (r *Registry) Namespace() script.Object {
	ns := script.Object{
		"core":   r.core.namespace(),
		"config": r.config.namespace(),
		"profile": script.Object{
			"id": script.Func(func(context.Context, []any) (any, error) {
				return r.profile.ID, nil
			}),
			"name": script.Func(func(context.Context, []any) (any, error) {
				return r.profile.Name, nil
			}),
		},
		"hasPermission": script.Func(func(_ context.Context, args []any) (any, error) {
			return r.HasPermission(script.StringArg(args, 0, "")), nil
		}),
		"requirePermission": script.Func(func(_ context.Context, args []any) (any, error) {
			if err := r.RequirePermission(script.StringArg(args, 0, "")); err != nil {
				return nil, err
			}
			return true, nil
		}),
	}
	if r.speech != nil {
		ns["speech"] = r.speech.namespace()
	}
	if r.overlay != nil {
		ns["overlay"] = r.overlay.namespace()
	}
	if r.player != nil {
		ns["player"] = r.player.namespace()
	}
	if r.window != nil {
		ns["window"] = r.window.namespace()
	}
	if r.storage != nil {
		ns["storage"] = r.storage.namespace()
	}
	if r.http != nil {
		ns["http"] = r.http.namespace()
	}
	if r.events != nil {
		ns["events"] = r.events.namespace()
	}
	return ns
}

// Close releases capability resources: overlay elements are removed,
// listeners dropped and the storage database closed. It is idempotent.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.overlay != nil {
			r.overlay.Clear()
		}
		if r.speech != nil {
			r.speech.RemoveAllListeners()
		}
		if r.events != nil {
			r.events.Clear()
		}
		if r.storage != nil {
			err = r.storage.Close()
		}
	})
	return err
}
