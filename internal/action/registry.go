package action

import (
	"context"
	"sync"

	"github.com/flowbotic/runtime/internal/spec"
)

// Handler is the function shape every action type implements: given the
// action's config and the current context, produce a Result or fail.
type Handler func(ctx context.Context, ex *Executor, ac *Context, act spec.Action) (Result, error)

// catalog is the package-level set of builtin action types, populated by
// each action file's init() call to RegisterActionType — the teacher's
// RegisterNodeType idiom. NewRegistry copies this catalog into a fresh,
// instance-owned map per runtime, so the mutable Registry itself is never
// a global singleton (spec.md §9).
var catalog = make(map[string]Handler)

// RegisterActionType adds name to the builtin catalog. Call from an
// init() function in the actions subpackage.
func RegisterActionType(name string, h Handler) {
	catalog[name] = h
}

// Registry maps action names to handlers. Unknown action tags fail with
// ValidationError at dispatch time (§6).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns a Registry seeded with every builtin action type
// registered so far.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(catalog))}
	for name, h := range catalog {
		r.handlers[name] = h
	}
	return r
}

// Register adds or replaces a handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for name, if any.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered action name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
