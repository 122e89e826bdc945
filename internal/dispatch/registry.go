package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/mattjoyce/voxbridge/internal/protocol"
	"github.com/mattjoyce/voxbridge/internal/session"
)

// Request is one inbound envelope being executed.
type Request struct {
	protocol.Envelope
	Phase   Phase
	Session *session.Session
}

// Handler executes one request type. The returned value becomes the
// RESPONSE value; a non-nil error becomes a STACK_TRACE failure.
type Handler func(ctx context.Context, req *Request) (any, error)

// Registry maps request type to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h for requestType, replacing any previous handler.
func (r *Registry) Register(requestType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[requestType] = h
}

// Lookup returns the handler for requestType.
func (r *Registry) Lookup(requestType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[requestType]
	return h, ok
}

// Types lists the registered request types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
