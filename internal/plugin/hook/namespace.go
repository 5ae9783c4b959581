package hook

import (
	"context"
	"fmt"
	"strings"
)

// Namespace is the action prefix routed directly to plugins.
const Namespace = "plugin"

// NamespaceHandler routes actions of the form plugin.<id>.<function>.
// A dotted function part is joined with underscores, so
// plugin.weather.refresh.now calls refresh_now.
type NamespaceHandler struct {
	target Target
}

// NewNamespaceHandler creates a namespace handler for target.
func NewNamespaceHandler(target Target) *NamespaceHandler {
	return &NamespaceHandler{target: target}
}

// Namespace returns the handled prefix.
func (h *NamespaceHandler) Namespace() string { return Namespace }

// CanHandle reports whether actionName names a function of a running
// plugin.
func (h *NamespaceHandler) CanHandle(ctx context.Context, actionName string) bool {
	pluginID, fn, err := ParseActionName(actionName)
	if err != nil {
		return false
	}
	return h.target.HasFunction(ctx, pluginID, fn)
}

// HandleAction calls the plugin function named by action.
func (h *NamespaceHandler) HandleAction(ctx context.Context, action Action) Result {
	pluginID, fn, err := ParseActionName(action.Name)
	if err != nil {
		return Errorf("invalid plugin action: %w", err)
	}
	return call(ctx, h.target, pluginID, fn, action)
}

// ParseActionName splits plugin.<id>.<function> into its plugin id and
// function name.
func ParseActionName(actionName string) (pluginID, fn string, err error) {
	rest, ok := strings.CutPrefix(actionName, Namespace+".")
	if !ok {
		return "", "", fmt.Errorf("action %q does not start with '%s.'", actionName, Namespace)
	}

	pluginID, fn, ok = strings.Cut(rest, ".")
	switch {
	case !ok:
		return "", "", fmt.Errorf("action %q missing function name after plugin id", actionName)
	case pluginID == "":
		return "", "", fmt.Errorf("action %q has empty plugin id", actionName)
	case fn == "":
		return "", "", fmt.Errorf("action %q has empty function name", actionName)
	}
	return pluginID, strings.ReplaceAll(fn, ".", "_"), nil
}
