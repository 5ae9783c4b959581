package script

import "context"

// Func is a host function callable from script code. The context carries
// the budget of the script call that invoked it.
type Func func(ctx context.Context, args []any) (any, error)

// Object is a script-visible table. Values may be Func, Object or any
// value the engine bridge can convert (nil, bool, numbers, strings,
// slices, maps).
type Object map[string]any

// Callback is a script function handed to the host, such as an event
// listener. Call must run on the owning context's worker goroutine.
type Callback interface {
	// Call invokes the function and returns its first result.
	Call(args ...any) (any, error)

	// Same reports whether other refers to the same script function.
	Same(other Callback) bool
}

// FuncCallback adapts a Go function to Callback. Identity is the pointer.
type FuncCallback struct {
	Fn func(args ...any) (any, error)
}

// Call invokes the wrapped function.
func (c *FuncCallback) Call(args ...any) (any, error) {
	return c.Fn(args...)
}

// Same reports pointer identity.
func (c *FuncCallback) Same(other Callback) bool {
	o, ok := other.(*FuncCallback)
	return ok && o == c
}

// Arg returns args[i] or nil.
func Arg(args []any, i int) any {
	if i < 0 || i >= len(args) {
		return nil
	}
	return args[i]
}

// StringArg returns args[i] as a string, or def.
func StringArg(args []any, i int, def string) string {
	if s, ok := Arg(args, i).(string); ok {
		return s
	}
	return def
}

// NumberArg returns args[i] as a float64, or def.
func NumberArg(args []any, i int, def float64) float64 {
	switch v := Arg(args, i).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return def
	}
}

// BoolArg returns args[i] as a bool, or def.
func BoolArg(args []any, i int, def bool) bool {
	if b, ok := Arg(args, i).(bool); ok {
		return b
	}
	return def
}

// CallbackArg returns args[i] as a Callback, or nil.
func CallbackArg(args []any, i int) Callback {
	cb, _ := Arg(args, i).(Callback)
	return cb
}

// MapArg returns args[i] as a map, or nil.
func MapArg(args []any, i int) map[string]any {
	m, _ := Arg(args, i).(map[string]any)
	return m
}

// StringsArg returns args[i] as a string slice. A single string becomes a
// one-element slice; non-string elements are skipped.
func StringsArg(args []any, i int) []string {
	switch v := Arg(args, i).(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
