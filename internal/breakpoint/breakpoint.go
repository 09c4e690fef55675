// Package breakpoint keeps the set of instruction addresses at which
// a plain step must pause.
package breakpoint

import "sort"

// Registry is a set of breakpoint addresses. It is owned by the
// session goroutine and needs no locking.
type Registry struct {
	addrs map[uint16]struct{}
}

func NewRegistry() *Registry {
	return &Registry{addrs: make(map[uint16]struct{})}
}

// Set inserts addr. Setting an existing breakpoint is a no-op.
func (r *Registry) Set(addr uint16) {
	r.addrs[addr] = struct{}{}
}

// Clear removes addr. Clearing an absent breakpoint is a no-op.
func (r *Registry) Clear(addr uint16) {
	delete(r.addrs, addr)
}

func (r *Registry) Contains(addr uint16) bool {
	_, ok := r.addrs[addr]
	return ok
}

func (r *Registry) Len() int {
	return len(r.addrs)
}

// Addrs returns the breakpoints in ascending order, for logging.
func (r *Registry) Addrs() []uint16 {
	out := make([]uint16, 0, len(r.addrs))
	for a := range r.addrs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
