// Package action defines the capability contract action handlers implement
// and the registry the executor resolves them from.
package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
)

// Invocation is everything a handler may need to apply one action: the
// action config, the event that matched, and the owning automation (webhook
// bodies carry automation metadata).
type Invocation struct {
	Automation *automation.Automation
	Action     automation.Action
	Index      int
	Event      *event.Event
}

// Handler applies one action type. Implementations classify their failures
// with Transientf/Permanentf; an unclassified error is treated as permanent.
type Handler interface {
	Type() automation.ActionType
	Apply(ctx context.Context, inv *Invocation) error
}

// Registry maps action types to their handlers.
// Safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[automation.ActionType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[automation.ActionType]Handler)}
}

// Register adds a handler. Panics on duplicate type to surface
// misconfiguration early.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("action registry: duplicate type %q", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for the given type.
func (r *Registry) Get(t automation.ActionType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for action type %q", t)
	}
	return h, nil
}

// Types returns all registered action types.
func (r *Registry) Types() []automation.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]automation.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
