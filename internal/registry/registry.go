// Package registry is the in-memory index from a user identity to its live
// transport connections. It is the join point for all routing: the message
// relay and the signaling coordinator both resolve recipients here.
package registry

import "sync"

// Sink is the write side of one live connection. Implementations must be safe
// for concurrent Send calls.
type Sink interface {
	ID() string
	UserID() string
	Send(payload []byte) error
}

// Registry maps identity -> set of connections. A user may hold several
// concurrent connections (multiple tabs or devices); zero connections simply
// means offline. Purely structural: callers own transport-level cleanup.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]Sink // userID -> connID -> sink
}

func New() *Registry {
	return &Registry{conns: make(map[string]map[string]Sink)}
}

// Register adds the connection under its owner's set. Idempotent per
// connection id.
func (r *Registry) Register(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[s.UserID()]
	if !ok {
		set = make(map[string]Sink)
		r.conns[s.UserID()] = set
	}
	set[s.ID()] = s
}

// Unregister removes the connection; a no-op if it is not tracked. It reports
// whether this was the owner's last connection, which is what presence and
// call-teardown care about.
func (r *Registry) Unregister(s Sink) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[s.UserID()]
	if !ok {
		return false
	}
	if _, ok := set[s.ID()]; !ok {
		return false
	}
	delete(set, s.ID())
	if len(set) == 0 {
		delete(r.conns, s.UserID())
		return true
	}
	return false
}

// ConnectionsOf returns a snapshot of the user's live connections, possibly
// empty. The snapshot may be stale by one register/unregister relative to
// concurrent callers; delivery is best-effort on top of the persisted fact.
func (r *Registry) ConnectionsOf(userID string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	if len(set) == 0 {
		return nil
	}
	sinks := make([]Sink, 0, len(set))
	for _, s := range set {
		sinks = append(sinks, s)
	}
	return sinks
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Count returns the number of tracked connections across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
