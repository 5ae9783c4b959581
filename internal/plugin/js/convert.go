package js

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/dshills/plughost/internal/plugin/script"
)

// toValue converts a Go value to a JS value. script.Func becomes a JS
// function; maps and script.Object become plain objects.
func (e *Engine) toValue(v any) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return val
	case *callback:
		return val.value
	case script.Func:
		return e.vm.ToValue(e.wrapFunc(val))
	case script.Object:
		return e.objectValue(val)
	case map[string]any:
		return e.objectValue(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = e.toValue(item)
		}
		return e.vm.NewArray(items...)
	default:
		return e.vm.ToValue(v)
	}
}

func (e *Engine) objectValue(m map[string]any) goja.Value {
	obj := e.vm.NewObject()
	for k, v := range m {
		_ = obj.Set(k, e.toValue(v))
	}
	return obj
}

func (e *Engine) toValues(args []any) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = e.toValue(a)
	}
	return out
}

// MaxConvertedValues bounds the array elements and object fields of one
// value converted to Go. Array lengths count in full, holes included.
const MaxConvertedValues = 1 << 20

// toGo converts a JS value to Go. Functions become script.Callback values,
// arrays []any and other objects map[string]any.
func (e *Engine) toGo(v goja.Value) (any, error) {
	c := &converter{
		engine:    e,
		visited:   make(map[*goja.Object]bool),
		remaining: MaxConvertedValues,
	}
	return c.convert(v)
}

type converter struct {
	engine    *Engine
	visited   map[*goja.Object]bool
	remaining int64
}

func (c *converter) take(n int64) error {
	if n > c.remaining {
		return fmt.Errorf("%w: more than %d elements", ErrValueTooLarge, MaxConvertedValues)
	}
	c.remaining -= n
	return nil
}

func (c *converter) convert(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if fn, ok := goja.AssertFunction(v); ok {
		return &callback{engine: c.engine, value: v, fn: fn}, nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export(), nil
	}
	if c.visited[obj] {
		return nil, nil
	}
	c.visited[obj] = true
	defer delete(c.visited, obj)

	switch obj.ClassName() {
	case "Array":
		n := obj.Get("length").ToInteger()
		if err := c.take(n); err != nil {
			return nil, err
		}
		arr := make([]any, n)
		for i := range arr {
			item, err := c.convert(obj.Get(strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			arr[i] = item
		}
		return arr, nil
	case "Object":
		keys := obj.Keys()
		if err := c.take(int64(len(keys))); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(keys))
		for _, k := range keys {
			item, err := c.convert(obj.Get(k))
			if err != nil {
				return nil, err
			}
			m[k] = item
		}
		return m, nil
	default:
		return obj.Export(), nil
	}
}

// wrapFunc exposes a host function to JS. Errors are thrown as JS
// exceptions so try/catch can handle them.
func (e *Engine) wrapFunc(fn script.Func) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			v, err := e.toGo(a)
			if err != nil {
				panic(e.vm.NewGoError(err))
			}
			args[i] = v
		}

		result, err := e.callHost(fn, args)
		if err != nil {
			panic(e.vm.NewGoError(err))
		}
		return e.toValue(result)
	}
}

func (e *Engine) callHost(fn script.Func, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host function panic: %v", r)
		}
	}()
	return fn(e.callContext(), args)
}

// callback is a JS function held by the host.
type callback struct {
	engine *Engine
	value  goja.Value
	fn     goja.Callable
}

// Call invokes the function and returns its result.
func (c *callback) Call(args ...any) (any, error) {
	if c.engine.closed {
		return nil, ErrClosed
	}
	v, err := c.fn(goja.Undefined(), c.engine.toValues(args)...)
	if err != nil {
		return nil, err
	}
	return c.engine.toGo(v)
}

// Same reports whether other is the same JS function object.
func (c *callback) Same(other script.Callback) bool {
	o, ok := other.(*callback)
	return ok && o.value.SameAs(c.value)
}
