package turn

import "sync"

// leaseRegistry grants at most one active turn per chat. Two concurrent
// turns on the same chat have no defined winner for "last assistant
// message", so the second request is rejected with a conflict instead of
// racing the first.
type leaseRegistry struct {
	mu     sync.Mutex
	active map[string]string // chatID -> streamID of the running turn
}

func newLeaseRegistry() *leaseRegistry {
	return &leaseRegistry{active: make(map[string]string)}
}

// Acquire claims the chat for the given turn. Returns false if another
// turn already holds the lease.
func (r *leaseRegistry) Acquire(chatID, streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.active[chatID]; busy {
		return false
	}
	r.active[chatID] = streamID
	return true
}

// Release frees the chat's lease if held by the given turn.
func (r *leaseRegistry) Release(chatID, streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[chatID] == streamID {
		delete(r.active, chatID)
	}
}
