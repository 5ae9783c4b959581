package hook

import (
	"errors"
	"fmt"
)

// ErrPluginFailure is returned when a plugin function reports failure
// without a message.
var ErrPluginFailure = errors.New("plugin returned failure")

// Action is a named request with arguments.
type Action struct {
	Name  string
	Count int
	Args  map[string]any
}

// Result is the outcome of an action.
type Result struct {
	Message string
	Value   any
	Err     error
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Success returns a successful result.
func Success() Result { return Result{} }

// Error returns a failed result.
func Error(err error) Result { return Result{Err: err} }

// Errorf returns a failed result with a formatted error.
func Errorf(format string, args ...any) Result {
	return Result{Err: fmt.Errorf(format, args...)}
}

// processResult interprets a plugin return value:
//   - nil or true: success
//   - false: failure
//   - non-empty string: failure with that message
//   - table: { error, status, message, ... }
//
// Any other value is a success carrying the value.
func processResult(v any) Result {
	switch val := v.(type) {
	case nil:
		return Success()
	case bool:
		if val {
			return Success()
		}
		return Error(ErrPluginFailure)
	case string:
		if val != "" {
			return Error(errors.New(val))
		}
		return Success()
	case map[string]any:
		return processResultTable(val)
	default:
		return Result{Value: v}
	}
}

func processResultTable(tbl map[string]any) Result {
	if errStr, ok := tbl["error"].(string); ok && errStr != "" {
		return Error(errors.New(errStr))
	}

	switch status := tbl["status"].(type) {
	case bool:
		if !status {
			return Error(ErrPluginFailure)
		}
	case string:
		if status == "error" || status == "failed" {
			if msg, ok := tbl["message"].(string); ok && msg != "" {
				return Error(errors.New(msg))
			}
			return Error(ErrPluginFailure)
		}
	}

	result := Result{Value: tbl}
	if msg, ok := tbl["message"].(string); ok {
		result.Message = msg
	}
	return result
}

// actionArgs builds the argument table passed to plugin functions.
func actionArgs(action Action) map[string]any {
	args := map[string]any{
		"action": action.Name,
		"count":  action.Count,
	}
	for k, v := range action.Args {
		args[k] = v
	}
	return args
}
