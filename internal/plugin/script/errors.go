package script

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrScriptLoad matches failures to read, compile or run the entry script.
	ErrScriptLoad = errors.New("script load failed")

	// ErrRuntime matches exceptions raised by script code.
	ErrRuntime = errors.New("script runtime error")

	// ErrTimeout matches calls that exceeded the execution budget.
	ErrTimeout = errors.New("script execution timeout")

	// ErrNotLoaded is returned when calling into a context with no script.
	ErrNotLoaded = errors.New("script not loaded")

	// ErrDisposed is returned when using a disposed context.
	ErrDisposed = errors.New("script context disposed")

	// ErrExecutorClosed is returned when attempting to use a closed executor.
	ErrExecutorClosed = errors.New("script executor is closed")
)

// Kind classifies a script failure.
type Kind int

// Failure kinds.
const (
	KindLoad Kind = iota + 1
	KindRuntime
	KindTimeout
	KindState
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindRuntime:
		return "runtime"
	case KindTimeout:
		return "timeout"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is a failure at the script boundary.
type Error struct {
	Kind     Kind
	PluginID string
	Op       string // e.g. "load", "onLoad", "call update"
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("plugin %s: %s", e.PluginID, e.Op)
	if e.Kind == KindTimeout {
		msg += ": timed out"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the kind onto its sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrScriptLoad:
		return e.Kind == KindLoad
	case ErrRuntime:
		return e.Kind == KindRuntime
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// KindOf returns the kind of err, or 0 when err is not a script error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
