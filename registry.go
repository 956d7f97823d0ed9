package netlib

import "sync"

// registry is the server's ordered set of accepted connections.
// Order is acceptance order; every method is safe for concurrent use.
type registry struct {
	mu    sync.Mutex
	conns []*Connection
}

func (r *registry) add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns = append(r.conns, c)
}

// remove deletes c and reports whether it was present.
func (r *registry) remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, conn := range r.conns {
		if conn == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the registered connections that callers may iterate without locking.
func (r *registry) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Connection, len(r.conns))
	copy(out, r.conns)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}
