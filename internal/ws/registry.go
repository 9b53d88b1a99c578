package ws

import "sync"

// Registry maps authenticated user ids to their live connections. A user may
// hold several connections at once (multi-device); all of them are targeted
// when fanning out notifications.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]map[*Client]struct{})}
}

// Register binds a connection to a user id.
func (r *Registry) Register(userID int, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[userID]; !ok {
		r.conns[userID] = make(map[*Client]struct{})
	}
	r.conns[userID][c] = struct{}{}
}

// Unregister removes the binding. The user's entry disappears with its last
// connection so the map never leaks after disconnects.
func (r *Registry) Unregister(userID int, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.conns, userID)
		}
	}
}

// ConnectionsFor snapshots the user's live connections for iteration outside
// the lock.
func (r *Registry) ConnectionsFor(userID int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}
