package resolver

import "sync"

// Registry tracks identifiers with a migration in flight.  Each entry carries a
// channel closed when the migration ends, so joiners wait on completion instead of
// polling.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[string]chan struct{})}
}

// Begin registers id.  If id is already registered, leader is false and done is the
// in-flight migration's completion channel.
func (r *Registry) Begin(id string) (leader bool, done <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, found := r.inflight[id]; found {
		return false, ch
	}
	ch := make(chan struct{})
	r.inflight[id] = ch
	return true, ch
}

// End releases id and wakes everything waiting on it.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, found := r.inflight[id]; found {
		close(ch)
		delete(r.inflight, id)
	}
}

// Wait returns the completion channel of an in-flight migration of id.
func (r *Registry) Wait(id string) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, found := r.inflight[id]
	return ch, found
}

// Contains returns true if a migration of id is in flight.
func (r *Registry) Contains(id string) bool {
	_, found := r.Wait(id)
	return found
}

// Len returns the number of migrations in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
