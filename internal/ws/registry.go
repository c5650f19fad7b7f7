package ws

import "sync"

// ConnectionRegistry tracks every live connection so shutdown can close
// them. Room-level fan-out lives in the relay registry, not here.
type ConnectionRegistry struct {
	mu          sync.Mutex
	connections map[*Connection]struct{}
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{connections: make(map[*Connection]struct{})}
}

// Register adds a connection.
func (r *ConnectionRegistry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c] = struct{}{}
	gatewayConnections.Set(float64(len(r.connections)))
}

// Unregister removes a connection.
func (r *ConnectionRegistry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, c)
	gatewayConnections.Set(float64(len(r.connections)))
}

// Len returns the number of live connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// CloseAll closes every connection; used during graceful shutdown.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
