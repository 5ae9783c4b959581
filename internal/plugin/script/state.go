package script

// State represents the lifecycle state of a script context.
type State int

// Script context states.
const (
	// StateCreated - No script is loaded.
	StateCreated State = iota

	// StateScriptLoaded - The entry script ran; onLoad has not succeeded.
	StateScriptLoaded

	// StateActive - onLoad succeeded.
	StateActive

	// StateUnloaded - onUnload was called.
	StateUnloaded

	// StateDisposed - The engine was released.
	StateDisposed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateScriptLoaded:
		return "script-loaded"
	case StateActive:
		return "active"
	case StateUnloaded:
		return "unloaded"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// IsCallable returns true if script functions may be invoked.
func (s State) IsCallable() bool {
	return s == StateScriptLoaded || s == StateActive
}
