package hook

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Target runs plugin functions. *plugin.Host satisfies it.
type Target interface {
	Invoke(ctx context.Context, pluginID, fn string, args ...any) (any, error)
	HasFunction(ctx context.Context, pluginID, fn string) bool
}

// ActionHandler maps action aliases to plugin functions.
type ActionHandler struct {
	mu      sync.RWMutex
	target  Target
	aliases map[string]alias
}

type alias struct {
	pluginID string
	function string
}

// NewActionHandler creates an empty alias table for target.
func NewActionHandler(target Target) *ActionHandler {
	return &ActionHandler{
		target:  target,
		aliases: make(map[string]alias),
	}
}

// Register maps actionName to function of pluginID. An empty function
// uses the last dot-separated part of actionName.
func (h *ActionHandler) Register(actionName, pluginID, function string) {
	if function == "" {
		function = actionName[strings.LastIndex(actionName, ".")+1:]
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.aliases[actionName] = alias{pluginID: pluginID, function: function}
}

// Unregister removes an alias.
func (h *ActionHandler) Unregister(actionName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.aliases, actionName)
}

// UnregisterPlugin removes every alias of pluginID and returns how many
// were removed.
func (h *ActionHandler) UnregisterPlugin(pluginID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for name, a := range h.aliases {
		if a.pluginID == pluginID {
			delete(h.aliases, name)
			count++
		}
	}
	return count
}

// CanHandle reports whether actionName is registered.
func (h *ActionHandler) CanHandle(actionName string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.aliases[actionName]
	return ok
}

// Handle runs the function registered for action.
func (h *ActionHandler) Handle(ctx context.Context, action Action) Result {
	h.mu.RLock()
	a, ok := h.aliases[action.Name]
	h.mu.RUnlock()
	if !ok {
		return Errorf("no plugin handler for action: %s", action.Name)
	}
	return call(ctx, h.target, a.pluginID, a.function, action)
}

// ListActions returns the registered action names, sorted.
func (h *ActionHandler) ListActions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.aliases))
	for name := range h.aliases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ListPluginActions returns the action names registered for pluginID,
// sorted.
func (h *ActionHandler) ListPluginActions(pluginID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0)
	for name, a := range h.aliases {
		if a.pluginID == pluginID {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func call(ctx context.Context, target Target, pluginID, function string, action Action) Result {
	if !target.HasFunction(ctx, pluginID, function) {
		return Errorf("plugin %q has no function %q", pluginID, function)
	}
	v, err := target.Invoke(ctx, pluginID, function, actionArgs(action))
	if err != nil {
		return Errorf("plugin %q error: %w", pluginID, err)
	}
	return processResult(v)
}
