package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Permission is a permission string a plugin declares in its manifest.
type Permission string

// Permissions that gate capabilities.
const (
	// PermissionAudio gates the speech capability.
	PermissionAudio Permission = "audio"

	// PermissionOverlay gates the overlay drawing capability.
	PermissionOverlay Permission = "overlay"

	// PermissionPlayer gates playback control.
	PermissionPlayer Permission = "player"

	// PermissionWindow gates window control.
	PermissionWindow Permission = "window"

	// PermissionStorage gates persisted key/value storage.
	PermissionStorage Permission = "storage"

	// PermissionNetwork gates HTTP access.
	PermissionNetwork Permission = "network"

	// PermissionEvents gates the event bus.
	PermissionEvents Permission = "events"
)

// PermissionInfo provides metadata about a permission.
type PermissionInfo struct {
	// Name is the permission identifier.
	Name Permission

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the permission allows.
	Description string

	// RiskLevel indicates how dangerous this permission is.
	RiskLevel RiskLevel
}

// RiskLevel indicates the security risk of a permission.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

var permissionRegistry = map[Permission]PermissionInfo{
	PermissionAudio: {
		Name:        PermissionAudio,
		DisplayName: "Speech",
		Description: "Listen to recognized speech and speak text",
		RiskLevel:   RiskMedium,
	},
	PermissionOverlay: {
		Name:        PermissionOverlay,
		DisplayName: "Overlay",
		Description: "Draw elements on the overlay surface",
		RiskLevel:   RiskLow,
	},
	PermissionPlayer: {
		Name:        PermissionPlayer,
		DisplayName: "Player Control",
		Description: "Read and control media playback",
		RiskLevel:   RiskLow,
	},
	PermissionWindow: {
		Name:        PermissionWindow,
		DisplayName: "Window Control",
		Description: "Change window opacity, bounds and click-through",
		RiskLevel:   RiskMedium,
	},
	PermissionStorage: {
		Name:        PermissionStorage,
		DisplayName: "Storage",
		Description: "Persist key/value data",
		RiskLevel:   RiskLow,
	},
	PermissionNetwork: {
		Name:        PermissionNetwork,
		DisplayName: "Network Access",
		Description: "Make HTTP requests",
		RiskLevel:   RiskHigh,
	},
	PermissionEvents: {
		Name:        PermissionEvents,
		DisplayName: "Events",
		Description: "Subscribe to and emit host events",
		RiskLevel:   RiskLow,
	},
}

// GetPermissionInfo returns information about a permission.
func GetPermissionInfo(p Permission) (PermissionInfo, bool) {
	info, ok := permissionRegistry[Normalize(string(p))]
	return info, ok
}

// IsKnownPermission returns true if the permission gates a capability.
func IsKnownPermission(p string) bool {
	_, ok := permissionRegistry[Normalize(p)]
	return ok
}

// AllPermissions returns all known permissions in sorted order.
func AllPermissions() []Permission {
	perms := make([]Permission, 0, len(permissionRegistry))
	for p := range permissionRegistry {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Normalize returns the canonical (trimmed, lowercased) form of a permission name.
func Normalize(p string) Permission {
	return Permission(strings.ToLower(strings.TrimSpace(p)))
}

// ErrPermissionDenied matches any PermissionDeniedError via errors.Is.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionDeniedError is returned by RequirePermission when a plugin did not
// declare the permission.
type PermissionDeniedError struct {
	Permission string
	PluginID   string
}

// Error implements the error interface.
func (e *PermissionDeniedError) Error() string {
	if e.PluginID != "" {
		return fmt.Sprintf("plugin %q: permission %q denied", e.PluginID, e.Permission)
	}
	return fmt.Sprintf("permission %q denied", e.Permission)
}

// Is reports whether target is ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
