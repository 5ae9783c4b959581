package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/script"
)

// Events is a per-plugin event bus. Names are case-insensitive and
// listeners are kept in registration order.
//
// Listeners are script callbacks, so Emit must run on the owning script
// context's worker goroutine. The host uses script.Context.Run for that.
type Events struct {
	mu        sync.Mutex
	listeners map[string][]script.Callback
	log       zerolog.Logger
}

// NewEvents creates an empty event bus.
func NewEvents(log zerolog.Logger) *Events {
	return &Events{
		listeners: make(map[string][]script.Callback),
		log:       log,
	}
}

func eventKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// On registers cb for event. Registering the same callback twice for the
// same event is a no-op.
func (e *Events) On(event string, cb script.Callback) bool {
	key := eventKey(event)
	if key == "" || cb == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.listeners[key] {
		if existing.Same(cb) {
			return true
		}
	}
	e.listeners[key] = append(e.listeners[key], cb)
	return true
}

// Off removes cb from event. A nil cb removes every listener of event.
// It returns the number of listeners removed.
func (e *Events) Off(event string, cb script.Callback) int {
	key := eventKey(event)

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[key]
	if cb == nil {
		delete(e.listeners, key)
		return len(current)
	}

	kept := current[:0:0]
	for _, existing := range current {
		if !existing.Same(cb) {
			kept = append(kept, existing)
		}
	}
	removed := len(current) - len(kept)
	if len(kept) == 0 {
		delete(e.listeners, key)
	} else {
		e.listeners[key] = kept
	}
	return removed
}

// Emit calls every listener of event in registration order with data.
// A failing listener does not stop the others; failures are joined.
// No lock is held while listeners run, so they may register or remove
// listeners.
func (e *Events) Emit(ctx context.Context, event string, data any) (int, error) {
	key := eventKey(event)

	e.mu.Lock()
	snapshot := append([]script.Callback(nil), e.listeners[key]...)
	e.mu.Unlock()

	var errs []error
	delivered := 0
	for i, cb := range snapshot {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := cb.Call(data); err != nil {
			e.log.Warn().Err(err).Str("event", key).Int("listener", i).Msg("Event listener failed")
			errs = append(errs, fmt.Errorf("listener %d for %q: %w", i, key, err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// ListenerCount returns the number of listeners for event.
func (e *Events) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[eventKey(event)])
}

// Events returns the names that have listeners.
func (e *Events) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}

// Clear removes all listeners.
func (e *Events) Clear() {
	e.mu.Lock()
	e.listeners = make(map[string][]script.Callback)
	e.mu.Unlock()
}

func (e *Events) namespace() script.Object {
	return script.Object{
		"on": script.Func(func(_ context.Context, args []any) (any, error) {
			cb := script.CallbackArg(args, 1)
			if cb == nil {
				return nil, errors.New("events.on: listener must be a function")
			}
			return e.On(script.StringArg(args, 0, ""), cb), nil
		}),
		"off": script.Func(func(_ context.Context, args []any) (any, error) {
			return e.Off(script.StringArg(args, 0, ""), script.CallbackArg(args, 1)), nil
		}),
		"emit": script.Func(func(ctx context.Context, args []any) (any, error) {
			// Listener failures are logged by Emit.
			n, _ := e.Emit(ctx, script.StringArg(args, 0, ""), script.Arg(args, 1))
			return n, nil
		}),
		"count": script.Func(func(_ context.Context, args []any) (any, error) {
			return e.ListenerCount(script.StringArg(args, 0, "")), nil
		}),
	}
}
