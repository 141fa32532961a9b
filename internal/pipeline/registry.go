package pipeline

import "sync"

// Registry is the concurrency-safe set of user ids with a live collector.
// The scanner consults it so at most one collector runs per user. The lock
// is held only for membership operations, never across queue pops or network
// calls.
type Registry struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[int64]struct{})}
}

// TryAcquire marks a user active. Returns false when the user already has a
// collector.
func (r *Registry) TryAcquire(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[userID]; ok {
		return false
	}
	r.active[userID] = struct{}{}
	return true
}

// Release removes a user from the active set.
func (r *Registry) Release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, userID)
}

// Len reports the number of active users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Active returns a snapshot of the active user ids.
func (r *Registry) Active() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
