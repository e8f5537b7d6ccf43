// Package command maps numeric command identifiers to handlers.
package command

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/codefionn/tcpchat/internal/apierr"
)

// Args is what a handler receives: the connection the command arrived on and
// the raw payload. Handlers decode the payload themselves.
type Args struct {
	ConnectionID string
	Payload      []byte
}

// Handler executes one command.
type Handler func(ctx context.Context, args Args) error

// Registry holds the handlers for one direction of the protocol.
// Register all handlers before the first Dispatch.
type Registry struct {
	name     string
	namer    func(uint16) string
	mu       sync.RWMutex
	handlers map[uint16]Handler
}

// NewRegistry creates an empty registry. namer is used in error messages
// and may be nil.
func NewRegistry(name string, namer func(uint16) string) *Registry {
	if namer == nil {
		namer = func(id uint16) string { return fmt.Sprintf("command_%d", id) }
	}
	return &Registry{
		name:     name,
		namer:    namer,
		handlers: make(map[uint16]Handler),
	}
}

// Register binds id to h. A duplicate id is a programming error and panics.
func (r *Registry) Register(id uint16, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("%s: nil handler for command %d", r.name, id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		panic(fmt.Sprintf("%s: command %d (%s) registered twice", r.name, id, r.namer(id)))
	}
	r.handlers[id] = h
}

// Lookup returns the handler for id.
func (r *Registry) Lookup(id uint16) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Dispatch runs the handler for id. An unknown id is a ProtocolError and
// nothing else happens.
func (r *Registry) Dispatch(ctx context.Context, connID string, id uint16, payload []byte) error {
	h, ok := r.Lookup(id)
	if !ok {
		return apierr.Protocol("%s: unrecognized command %d", r.name, id)
	}
	return h(ctx, Args{ConnectionID: connID, Payload: payload})
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint16, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Name returns the name given to NewRegistry.
func (r *Registry) Name() string { return r.name }

// CommandName returns the display name of id.
func (r *Registry) CommandName(id uint16) string { return r.namer(id) }
