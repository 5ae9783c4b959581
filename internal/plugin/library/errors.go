package library

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrInvalidID     = errors.New("library: invalid plugin id")
	ErrIDMismatch    = errors.New("library: manifest id does not match")
	ErrNotNewer      = errors.New("library: candidate version is not newer")
	ErrNotADirectory = errors.New("library: source is not a directory")
)

// ConflictKind classifies a ConflictError.
type ConflictKind int

// Conflict kinds.
const (
	AlreadyInstalled ConflictKind = iota + 1
	NotInstalled
	HasReferences
)

// String returns the kind name.
func (k ConflictKind) String() string {
	switch k {
	case AlreadyInstalled:
		return "already installed"
	case NotInstalled:
		return "not installed"
	case HasReferences:
		return "has references"
	default:
		return "unknown"
	}
}

// ConflictError reports an install or uninstall that conflicts with the
// current library state.
type ConflictError struct {
	Kind     ConflictKind
	PluginID string

	// Profiles referencing the plugin, for HasReferences.
	Profiles []string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("plugin %q %s", e.PluginID, e.Kind)
	if len(e.Profiles) > 0 {
		msg += " (profiles: " + strings.Join(e.Profiles, ", ") + ")"
	}
	return msg
}

// IsConflict reports whether err is a ConflictError of the given kind.
func IsConflict(err error, kind ConflictKind) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Kind == kind
}
