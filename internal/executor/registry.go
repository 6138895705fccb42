package executor

import (
	"context"
	"sync"

	"codeberg.org/mutker/legionctl/internal/action"
)

// Undo reverts a single applied action; the compensating half of an
// Apply. Invoked in reverse application order during rollback.
type Undo func(ctx context.Context) error

// Handler applies one action to its control surface and hands back the
// exact inverse. Handlers may block on hardware I/O; the transport owns
// retries and timeouts.
type Handler interface {
	Apply(ctx context.Context, act action.ResourceAction) (Undo, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, act action.ResourceAction) (Undo, error)

func (f HandlerFunc) Apply(ctx context.Context, act action.ResourceAction) (Undo, error) {
	return f(ctx, act)
}

// Registry maps control surfaces to handlers. Registration happens at
// composition time; lookups fail closed for unregistered targets.
type Registry struct {
	mu       sync.RWMutex
	handlers map[action.Target]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[action.Target]Handler)}
}

func (r *Registry) Register(target action.Target, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = h
}

func (r *Registry) Lookup(target action.Target) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[target]
	return h, ok
}
