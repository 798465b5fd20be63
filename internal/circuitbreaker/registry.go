package circuitbreaker

import (
	"sync"

	"github.com/nexusgw/gateway/internal/config"
)

// Registry holds one Breaker per route, grounded on the teacher's
// BreakerByRoute. A process-wide Default registry is created once at
// startup and injected into the gateway server; tests construct their own
// registries rather than sharing process-wide state.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Default is the process-wide registry used when no request-scoped or
// test-scoped registry is supplied.
var Default = NewRegistry()

// AddRoute registers (or replaces) the breaker for a route.
func (r *Registry) AddRoute(routeID string, cfg config.CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[routeID] = NewBreaker(routeID, cfg)
}

// Get returns the breaker for a route, or nil if none is registered.
func (r *Registry) Get(routeID string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[routeID]
}

// Remove deletes a route's breaker.
func (r *Registry) Remove(routeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, routeID)
}

// Snapshots returns snapshots of every registered breaker.
func (r *Registry) Snapshots() map[string]BreakerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]BreakerSnapshot, len(r.breakers))
	for id, b := range r.breakers {
		result[id] = b.Snapshot()
	}
	return result
}
