package session

import "sync"

// Registry is the sole source of truth for "is this session currently
// loaded". It holds at most one handle per session id.
//
// Mutation happens only through the supervisor: a handle is registered only
// after its client initialized successfully, and unregistered before any
// replacement setup begins.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Get returns the handle for id, or nil when the session is not loaded.
func (r *Registry) Get(id string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[id]
}

// GetAll returns a snapshot of all loaded handles.
func (r *Registry) GetAll() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Len returns the number of loaded sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// register installs h unless its id is already held.
func (r *Registry) register(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.ID]; ok {
		return false
	}
	r.handles[h.ID] = h
	return true
}

// remove drops the entry for id; removing an absent id is a no-op.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}
