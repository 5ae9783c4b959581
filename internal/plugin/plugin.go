package plugin

import (
	"github.com/dshills/plughost/internal/plugin/api"
	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/script"
	"github.com/dshills/plughost/internal/plugin/settings"
)

// Plugin is one plugin running in a host for the active profile.
type Plugin struct {
	manifest  *manifest.Manifest
	profileID string
	sourceDir string
	configDir string
	settings  *settings.Store
	registry  *api.Registry
	script    *script.Context
}

// ID returns the plugin id.
func (p *Plugin) ID() string { return p.manifest.ID }

// Manifest returns a copy of the plugin manifest.
func (p *Plugin) Manifest() *manifest.Manifest { return p.manifest.Clone() }

// ProfileID returns the profile the plugin runs in.
func (p *Plugin) ProfileID() string { return p.profileID }

// SourceDir returns the read-only package directory.
func (p *Plugin) SourceDir() string { return p.sourceDir }

// ConfigDir returns the profile-scoped writable directory.
func (p *Plugin) ConfigDir() string { return p.configDir }

// Settings returns the plugin config store.
func (p *Plugin) Settings() *settings.Store { return p.settings }

// Registry returns the plugin capabilities.
func (p *Plugin) Registry() *api.Registry { return p.registry }

// Script returns the script context.
func (p *Plugin) Script() *script.Context { return p.script }

// IsLoaded reports whether onLoad succeeded and onUnload was not called.
func (p *Plugin) IsLoaded() bool { return p.script.IsLoaded() }

// IsEnabled reports whether the plugin accepts broadcasts.
func (p *Plugin) IsEnabled() bool { return p.script.IsEnabled() }

// LastError returns the last script failure.
func (p *Plugin) LastError() error { return p.script.LastError() }

// Info is a snapshot of a running plugin.
type Info struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	State     string `json:"state"`
	Loaded    bool   `json:"loaded"`
	Enabled   bool   `json:"enabled"`
	LastError string `json:"lastError,omitempty"`
}

// Info returns a snapshot of the plugin state.
func (p *Plugin) Info() Info {
	info := Info{
		ID:      p.manifest.ID,
		Name:    p.manifest.Name,
		Version: p.manifest.Version,
		State:   p.script.State().String(),
		Loaded:  p.IsLoaded(),
		Enabled: p.IsEnabled(),
	}
	if err := p.LastError(); err != nil {
		info.LastError = err.Error()
	}
	return info
}
