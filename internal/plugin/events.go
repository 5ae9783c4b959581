package plugin

// EventHandler receives host events. Handlers must not block; panics are
// recovered.
type EventHandler func(event Event)

// Event is a host lifecycle notification.
type Event struct {
	Type      EventType
	PluginID  string
	ProfileID string
	Error     error
}

// EventType is the type of host event.
type EventType int

const (
	// EventPluginLoaded is emitted after onLoad succeeded.
	EventPluginLoaded EventType = iota
	// EventPluginUnloaded is emitted after a plugin was disposed.
	EventPluginUnloaded
	// EventPluginReloaded is emitted after a reload completed.
	EventPluginReloaded
	// EventPluginError is emitted when a plugin failed to load or run.
	EventPluginError
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginReloaded:
		return "reloaded"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// OnEvent adds an event handler and returns a function removing it.
func (h *Host) OnEvent(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	h.mu.Lock()
	h.handlers = append(h.handlers, handler)
	index := len(h.handlers) - 1
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Set to nil instead of removing to keep indexes stable
		if index < len(h.handlers) {
			h.handlers[index] = nil
		}
	}
}

// emit sends an event to all handlers outside any lock.
func (h *Host) emit(event Event) {
	h.mu.RLock()
	handlers := make([]EventHandler, len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Error().Interface("panic", r).Msg("Host event handler panicked")
				}
			}()
			handler(event)
		}()
	}
}
