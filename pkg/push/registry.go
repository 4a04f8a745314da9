package push

import (
	"sync"

	"github.com/castellanhq/castellan/pkg/observability"
)

// Registry tracks the open connections per user. A user may hold
// several connections (multiple tabs or devices) and each one gets
// every push.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	metrics *observability.Metrics
}

// NewRegistry creates a connection registry. metrics may be nil.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		clients: make(map[int64]map[*Client]struct{}),
		metrics: metrics,
	}
}

// Register adds a client connection for a user
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[client.userID] == nil {
		r.clients[client.userID] = make(map[*Client]struct{})
	}
	r.clients[client.userID][client] = struct{}{}

	if r.metrics != nil {
		r.metrics.PushConnectionsOpen.Inc()
	}
}

// Deregister removes a client connection
func (r *Registry) Deregister(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}

	delete(conns, client)
	if len(conns) == 0 {
		delete(r.clients, client.userID)
	}

	if r.metrics != nil {
		r.metrics.PushConnectionsOpen.Dec()
	}
}

// Connections returns a snapshot of the user's open connections
func (r *Registry) Connections(userID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.clients[userID]
	if len(conns) == 0 {
		return nil
	}

	result := make([]*Client, 0, len(conns))
	for client := range conns {
		result = append(result, client)
	}
	return result
}

// ConnectionCount returns the total number of open connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.clients {
		total += len(conns)
	}
	return total
}
