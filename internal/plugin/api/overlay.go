package api

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/plughost/internal/plugin/script"
)

// OverlayElement is a drawable item owned by one plugin.
type OverlayElement struct {
	ID       string         `json:"id"`
	PluginID string         `json:"pluginId"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props"`
}

func (el OverlayElement) clone() OverlayElement {
	el.Props = maps.Clone(el.Props)
	return el
}

func (el OverlayElement) toMap() map[string]any {
	m := make(map[string]any, len(el.Props)+2)
	for k, v := range el.Props {
		m[k] = v
	}
	m["id"] = el.ID
	m["type"] = el.Type
	return m
}

// Overlay tracks a plugin's overlay elements and forwards them to the
// renderer when one is attached.
type Overlay struct {
	mu       sync.Mutex
	pluginID string
	provider OverlayProvider
	order    []string
	elements map[string]OverlayElement
}

// NewOverlay creates the overlay capability.
func NewOverlay(pluginID string, p OverlayProvider) *Overlay {
	return &Overlay{
		pluginID: pluginID,
		provider: p,
		elements: make(map[string]OverlayElement),
	}
}

// Attach sets or clears the renderer. Tracked elements are redrawn on the
// new renderer.
func (o *Overlay) Attach(p OverlayProvider) {
	o.mu.Lock()
	o.provider = p
	els := o.listLocked()
	o.mu.Unlock()

	if p != nil {
		for _, el := range els {
			p.Draw(el)
		}
	}
}

// Draw adds or replaces an element and returns its id. Elements without an
// id get a generated one.
func (o *Overlay) Draw(el OverlayElement) (string, error) {
	el.ID = strings.TrimSpace(el.ID)
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	if strings.TrimSpace(el.Type) == "" {
		return "", errors.New("overlay element requires a type")
	}
	el.PluginID = o.pluginID
	if el.Props == nil {
		el.Props = map[string]any{}
	}

	o.mu.Lock()
	if _, exists := o.elements[el.ID]; !exists {
		o.order = append(o.order, el.ID)
	}
	o.elements[el.ID] = el.clone()
	p := o.provider
	o.mu.Unlock()

	if p != nil {
		p.Draw(el)
	}
	return el.ID, nil
}

// Update merges props into an existing element. It reports whether the
// element exists.
func (o *Overlay) Update(id string, props map[string]any) bool {
	o.mu.Lock()
	el, ok := o.elements[id]
	if !ok {
		o.mu.Unlock()
		return false
	}
	el = el.clone()
	for k, v := range props {
		switch k {
		case "id", "pluginId":
		case "type":
			if s, ok := v.(string); ok && s != "" {
				el.Type = s
			}
		default:
			el.Props[k] = v
		}
	}
	o.elements[id] = el
	p := o.provider
	o.mu.Unlock()

	if p != nil {
		p.Draw(el)
	}
	return true
}

// Remove deletes an element. It reports whether the element existed.
func (o *Overlay) Remove(id string) bool {
	o.mu.Lock()
	if _, ok := o.elements[id]; !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.elements, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	p := o.provider
	o.mu.Unlock()

	if p != nil {
		p.Remove(id)
	}
	return true
}

// Clear removes every element and returns how many were removed.
func (o *Overlay) Clear() int {
	o.mu.Lock()
	ids := o.order
	o.order = nil
	o.elements = make(map[string]OverlayElement)
	p := o.provider
	o.mu.Unlock()

	if p != nil {
		for _, id := range ids {
			p.Remove(id)
		}
	}
	return len(ids)
}

// List returns the elements in draw order.
func (o *Overlay) List() []OverlayElement {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listLocked()
}

func (o *Overlay) listLocked() []OverlayElement {
	out := make([]OverlayElement, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.elements[id].clone())
	}
	return out
}

// elementFromMap builds an element from a script table. Keys other than
// id and type become props.
func elementFromMap(m map[string]any) OverlayElement {
	el := OverlayElement{Props: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case "id":
			el.ID, _ = v.(string)
		case "type":
			el.Type, _ = v.(string)
		default:
			el.Props[k] = v
		}
	}
	return el
}

func (o *Overlay) namespace() script.Object {
	return script.Object{
		"draw": script.Func(func(_ context.Context, args []any) (any, error) {
			id, err := o.Draw(elementFromMap(script.MapArg(args, 0)))
			if err != nil {
				return nil, err
			}
			return id, nil
		}),
		"update": script.Func(func(_ context.Context, args []any) (any, error) {
			return o.Update(script.StringArg(args, 0, ""), script.MapArg(args, 1)), nil
		}),
		"remove": script.Func(func(_ context.Context, args []any) (any, error) {
			return o.Remove(script.StringArg(args, 0, "")), nil
		}),
		"clear": script.Func(func(context.Context, []any) (any, error) {
			return o.Clear(), nil
		}),
		"list": script.Func(func(context.Context, []any) (any, error) {
			els := o.List()
			out := make([]any, len(els))
			for i, el := range els {
				out[i] = el.toMap()
			}
			return out, nil
		}),
	}
}
