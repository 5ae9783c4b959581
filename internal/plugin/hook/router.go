package hook

import "context"

// Router dispatches actions to registered aliases first, then to the
// plugin namespace.
type Router struct {
	actions   *ActionHandler
	namespace *NamespaceHandler
}

// NewRouter creates a router for target.
func NewRouter(target Target) *Router {
	return &Router{
		actions:   NewActionHandler(target),
		namespace: NewNamespaceHandler(target),
	}
}

// Actions returns the alias table.
func (r *Router) Actions() *ActionHandler { return r.actions }

// Dispatch runs action.
func (r *Router) Dispatch(ctx context.Context, action Action) Result {
	if r.actions.CanHandle(action.Name) {
		return r.actions.Handle(ctx, action)
	}
	if _, _, err := ParseActionName(action.Name); err == nil {
		return r.namespace.HandleAction(ctx, action)
	}
	return Errorf("unknown action: %s", action.Name)
}
