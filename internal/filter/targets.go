package filter

import (
	"sync"
	"time"
)

// Registry tracks the rendering targets currently attached. Targets announce
// themselves on hello, refresh on any activity and are pruned after a TTL so
// a crashed page does not receive fan-out forever.
type Registry struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewRegistry creates an empty target registry
func NewRegistry() *Registry {
	return &Registry{
		lastSeen: make(map[string]time.Time),
	}
}

// Register adds or refreshes a target. Returns true when the target was not
// known before.
func (r *Registry) Register(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.lastSeen[id]
	r.lastSeen[id] = time.Now()
	return !known
}

// Remove deletes a target. Returns true when the target was known.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.lastSeen[id]
	if known {
		delete(r.lastSeen, id)
	}
	return known
}

// List returns the ids of all known targets
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.lastSeen))
	for id := range r.lastSeen {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of known targets (for health/status)
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lastSeen)
}

// PruneStale removes targets idle longer than ttl and returns their ids
func (r *Registry) PruneStale(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var pruned []string

	for id, seen := range r.lastSeen {
		if now.Sub(seen) > ttl {
			delete(r.lastSeen, id)
			pruned = append(pruned, id)
		}
	}

	return pruned
}
