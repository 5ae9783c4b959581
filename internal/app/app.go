// Package app wires the plugin host components together and manages
// their lifecycle.
package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/logging"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/plugin/api"
	"github.com/dshills/plughost/internal/plugin/association"
	"github.com/dshills/plughost/internal/plugin/hook"
	"github.com/dshills/plughost/internal/plugin/library"
)

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. Empty uses defaults and the
	// environment.
	ConfigPath string

	// Config replaces loading from ConfigPath.
	Config *config.Config

	// LogLevel overrides the configured level when set.
	LogLevel string

	// LogOut receives console logs; os.Stderr when nil.
	LogOut io.Writer

	// Providers are the host collaborators handed to plugins.
	Providers api.Providers
}

// Application owns the library, the association index and the host.
type Application struct {
	cfg    *config.Config
	logger *logging.Logger
	log    zerolog.Logger

	library      *library.Library
	associations *association.Index
	host         *plugin.Host
	router       *hook.Router

	mu        sync.Mutex
	cancel    context.CancelFunc
	attach    sync.Once
	running   atomic.Bool
	closed    atomic.Bool
	reconcile library.ReconcileResult
}

// New creates an application. Components are constructed in dependency
// order: config, logging, library, association index, host.
func New(opts Options) (*Application, error) {
	a := &Application{}
	if err := a.bootstrap(opts); err != nil {
		if a.logger != nil {
			a.logger.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *Application) bootstrap(opts Options) error {
	// 1. Config
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return &InitError{Component: "config", Err: err}
		}
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	a.cfg = cfg

	// 2. Logging
	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
		Pretty:  cfg.Log.Pretty,
		Out:     opts.LogOut,
	})
	if err != nil {
		return &InitError{Component: "logging", Err: err}
	}
	a.logger = logger
	a.log = logger.Component("app")

	// 3. Library
	a.library, err = library.Open(library.Options{
		Dir:         cfg.Paths.PluginsDir(),
		HostVersion: cfg.Runtime.HostVersion,
		Logger:      logger.Component("library"),
	})
	if err != nil {
		return &InitError{Component: "library", Err: err}
	}

	// 4. Association index
	a.associations, err = association.Open(cfg.Paths.AssociationsFile(), logger.Component("associations"))
	if err != nil {
		return &InitError{Component: "association index", Err: err}
	}
	a.library.SetReferenceFinder(a.associations)

	a.reconcile, err = a.library.Reconcile(cfg.Paths.BuiltinDir())
	if err != nil {
		return &InitError{Component: "library reconcile", Err: err}
	}
	if n := len(a.reconcile.Installed) + len(a.reconcile.Migrated) + len(a.reconcile.Dropped); n > 0 {
		a.log.Info().
			Strs("installed", a.reconcile.Installed).
			Strs("migrated", a.reconcile.Migrated).
			Strs("dropped", a.reconcile.Dropped).
			Msg("Library reconciled")
	}

	// 5. Host
	a.host, err = plugin.New(plugin.Options{
		Library:      a.library,
		Associations: a.associations,
		Dirs:         cfg.Paths,
		Providers:    opts.Providers,
		HTTPClient:   &http.Client{Timeout: cfg.Network.Timeout.Std()},
		AllowedHosts: cfg.Network.AllowedHosts,
		BlockedHosts: cfg.Network.BlockedHosts,
		Timeout:      cfg.Runtime.Timeout.Std(),
		Grace:        cfg.Runtime.Grace.Std(),
		QueueSize:    cfg.Runtime.QueueSize,
		Logger:       logger.Logger,
	})
	if err != nil {
		return &InitError{Component: "host", Err: err}
	}

	// 6. Actions
	a.router = hook.NewRouter(a.host)
	for alias, target := range cfg.Actions {
		id, fn, _ := strings.Cut(target, ".")
		a.router.Actions().Register(alias, id, fn)
	}

	a.host.OnEvent(func(e plugin.Event) {
		if e.Type == plugin.EventPluginUnloaded {
			a.log.Debug().Str("plugin", e.PluginID).Msg("Plugin unloaded")
		}
	})
	return nil
}

// Config returns the effective configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the root logger.
func (a *Application) Logger() zerolog.Logger { return a.logger.Logger }

// Library returns the plugin library.
func (a *Application) Library() *library.Library { return a.library }

// Associations returns the association index.
func (a *Application) Associations() *association.Index { return a.associations }

// Host returns the plugin host.
func (a *Application) Host() *plugin.Host { return a.host }

// Router returns the action router.
func (a *Application) Router() *hook.Router { return a.router }

// Reconciled returns what startup reconciliation changed.
func (a *Application) Reconciled() library.ReconcileResult { return a.reconcile }

// IsRunning reports whether Run is active.
func (a *Application) IsRunning() bool { return a.running.Load() }
