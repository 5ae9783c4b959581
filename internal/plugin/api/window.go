package api

import (
	"context"
	"sync"

	"github.com/dshills/plughost/internal/plugin/script"
)

// DefaultBounds are reported when no window is attached.
var DefaultBounds = Bounds{X: 0, Y: 0, Width: 800, Height: 600}

// Window exposes the host window. Without a provider it reports opacity
// 1, click-through off, topmost on and DefaultBounds, and setters do
// nothing.
type Window struct {
	mu       sync.RWMutex
	provider WindowProvider
}

// NewWindow creates the window capability.
func NewWindow(p WindowProvider) *Window {
	return &Window{provider: p}
}

// Attach sets or clears the provider.
func (w *Window) Attach(provider WindowProvider) {
	w.mu.Lock()
	w.provider = provider
	w.mu.Unlock()
}

func (w *Window) get() WindowProvider {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.provider
}

// Opacity returns the window opacity in [0, 1].
func (w *Window) Opacity() float64 {
	if p := w.get(); p != nil {
		return p.Opacity()
	}
	return 1.0
}

// SetOpacity sets the opacity, clamped to [0, 1].
func (w *Window) SetOpacity(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if p := w.get(); p != nil {
		p.SetOpacity(v)
	}
}

// ClickThrough reports whether mouse input passes through the window.
func (w *Window) ClickThrough() bool {
	if p := w.get(); p != nil {
		return p.ClickThrough()
	}
	return false
}

// SetClickThrough toggles click-through.
func (w *Window) SetClickThrough(v bool) {
	if p := w.get(); p != nil {
		p.SetClickThrough(v)
	}
}

// Topmost reports whether the window stays above others.
func (w *Window) Topmost() bool {
	if p := w.get(); p != nil {
		return p.Topmost()
	}
	return true
}

// SetTopmost toggles always-on-top.
func (w *Window) SetTopmost(v bool) {
	if p := w.get(); p != nil {
		p.SetTopmost(v)
	}
}

// Bounds returns the window rectangle.
func (w *Window) Bounds() Bounds {
	if p := w.get(); p != nil {
		return p.Bounds()
	}
	return DefaultBounds
}

// SetBounds moves and resizes the window. Non-positive sizes are ignored.
func (w *Window) SetBounds(b Bounds) {
	if b.Width <= 0 || b.Height <= 0 {
		return
	}
	if p := w.get(); p != nil {
		p.SetBounds(b)
	}
}

func boundsMap(b Bounds) map[string]any {
	return map[string]any{"x": b.X, "y": b.Y, "width": b.Width, "height": b.Height}
}

func (w *Window) namespace() script.Object {
	return script.Object{
		"opacity": script.Func(func(context.Context, []any) (any, error) {
			return w.Opacity(), nil
		}),
		"setOpacity": script.Func(func(_ context.Context, args []any) (any, error) {
			w.SetOpacity(script.NumberArg(args, 0, 1))
			return nil, nil
		}),
		"clickThrough": script.Func(func(context.Context, []any) (any, error) {
			return w.ClickThrough(), nil
		}),
		"setClickThrough": script.Func(func(_ context.Context, args []any) (any, error) {
			w.SetClickThrough(script.BoolArg(args, 0, false))
			return nil, nil
		}),
		"topmost": script.Func(func(context.Context, []any) (any, error) {
			return w.Topmost(), nil
		}),
		"setTopmost": script.Func(func(_ context.Context, args []any) (any, error) {
			w.SetTopmost(script.BoolArg(args, 0, true))
			return nil, nil
		}),
		"bounds": script.Func(func(context.Context, []any) (any, error) {
			return boundsMap(w.Bounds()), nil
		}),
		"setBounds": script.Func(func(_ context.Context, args []any) (any, error) {
			m := script.MapArg(args, 0)
			cur := w.Bounds()
			w.SetBounds(Bounds{
				X:      int(script.NumberArg([]any{m["x"]}, 0, float64(cur.X))),
				Y:      int(script.NumberArg([]any{m["y"]}, 0, float64(cur.Y))),
				Width:  int(script.NumberArg([]any{m["width"]}, 0, float64(cur.Width))),
				Height: int(script.NumberArg([]any{m["height"]}, 0, float64(cur.Height))),
			})
			return nil, nil
		}),
	}
}
