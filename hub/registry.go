package hub

// Registry is the set of live connections. It is not safe for concurrent
// use; the Hub only touches it from its Loop.
type Registry struct {
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

func (r *Registry) Add(c Conn) {
	r.conns[c.ID()] = c
}

// Remove reports whether c was registered.
func (r *Registry) Remove(c Conn) bool {
	if _, ok := r.conns[c.ID()]; !ok {
		return false
	}
	delete(r.conns, c.ID())
	return true
}

// Snapshot copies the current members so the caller may mutate the
// registry while iterating.
func (r *Registry) Snapshot() []Conn {
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.conns)
}
