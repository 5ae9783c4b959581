package plugin

import "errors"

// Host errors.
var (
	// ErrPluginNotFound is returned when a plugin is not running in the host.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNotLoaded is returned when a running plugin has not completed onLoad.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrPluginDisabled is returned when a plugin's config disables it.
	ErrPluginDisabled = errors.New("plugin is disabled")

	// ErrNotInstalled is returned when an associated plugin is missing from
	// the library.
	ErrNotInstalled = errors.New("plugin is not installed")

	// ErrNoProfile is returned when an operation needs an active profile.
	ErrNoProfile = errors.New("no active profile")
)
