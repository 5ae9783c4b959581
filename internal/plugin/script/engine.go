package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Engine is an embedded script interpreter instance. Implementations are
// not goroutine-safe; a Context drives one engine from its executor.
//
// Every method that runs script code must stop when ctx is done and must
// expose ctx to the Func values the script calls.
type Engine interface {
	// Load compiles src and runs its top-level code.
	Load(ctx context.Context, chunk string, src []byte) error

	// SetGlobal binds a host value as a script global.
	SetGlobal(name string, value any) error

	// HasFunction reports whether a global function exists.
	HasFunction(name string) bool

	// Call invokes a global function and returns its first result.
	Call(ctx context.Context, name string, args ...any) (any, error)

	// Guard runs host code that may call back into the script (through a
	// Callback) under ctx's watchdog.
	Guard(ctx context.Context, fn func() error) error

	// Close releases the interpreter.
	Close() error
}

// EngineFactory creates a fresh engine.
type EngineFactory func() (Engine, error)

// Registry maps entry script extensions to engine factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]EngineFactory
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]EngineFactory)}
}

// Register associates an extension ("lua", ".js") with a factory.
func (r *Registry) Register(ext string, f EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeExt(ext)] = f
}

// Factory returns the factory for ext.
func (r *Registry) Factory(ext string) (EngineFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[normalizeExt(ext)]
	if !ok {
		return nil, fmt.Errorf("no script engine for %q files", ext)
	}
	return f, nil
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for ext := range r.factories {
		out = append(out, ext)
	}
	return out
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}
