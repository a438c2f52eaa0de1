package transport

import (
	"sync"

	"github.com/google/uuid"

	"leo-remote/internal/protocol"
)

// Handler receives one dispatched message.
type Handler func(protocol.Message)

// Subscription is the disposal token returned by On.
type Subscription struct {
	ID   string
	Kind protocol.Kind
	reg  *Registry
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.reg == nil {
		return
	}
	s.reg.remove(s.Kind, s.ID)
}

type registration struct {
	id string
	h  Handler
}

// Registry maps message kinds to ordered handler lists.
type Registry struct {
	mu       sync.RWMutex
	handlers map[protocol.Kind][]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[protocol.Kind][]registration)}
}

// On registers h for kind. Handlers for the same kind run in registration order.
func (r *Registry) On(kind protocol.Kind, h Handler) *Subscription {
	id := uuid.New().String()

	r.mu.Lock()
	r.handlers[kind] = append(r.handlers[kind], registration{id: id, h: h})
	r.mu.Unlock()

	return &Subscription{ID: id, Kind: kind, reg: r}
}

func (r *Registry) remove(kind protocol.Kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[kind]
	for i, reg := range regs {
		if reg.id == id {
			// Copy so an in-flight Dispatch keeps iterating its own slice.
			next := make([]registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			r.handlers[kind] = next
			return
		}
	}
}

// Dispatch invokes every handler registered for msg's kind, in order.
func (r *Registry) Dispatch(msg protocol.Message) {
	r.mu.RLock()
	regs := r.handlers[msg.Kind()]
	r.mu.RUnlock()

	for _, reg := range regs {
		reg.h(msg)
	}
}

// Len reports how many handlers are registered for kind.
func (r *Registry) Len(kind protocol.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}
