// Package registry maps event names to their handlers.
package registry

import (
	"sync"

	"github.com/adrijusxx/linehaul/internal/events/domain"
)

type registry struct {
	mu       sync.RWMutex
	handlers map[string]domain.Handler
}

func Provide() domain.Registry {
	return &registry{handlers: make(map[string]domain.Handler)}
}

func (r *registry) Register(name string, h domain.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *registry) Lookup(name string) (domain.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
