package amx

import "sort"

// BreakpointSet is the local mirror of the instruction addresses armed on
// the remote debugger. The remote copy is authoritative.
type BreakpointSet struct {
	addrs map[uint32]struct{}
}

// NewBreakpointSet returns an empty set.
func NewBreakpointSet() BreakpointSet {
	return BreakpointSet{addrs: make(map[uint32]struct{})}
}

// Add arms addr. Returns false if it was already present.
func (s *BreakpointSet) Add(addr uint32) bool {
	if s.addrs == nil {
		s.addrs = make(map[uint32]struct{})
	}
	if _, ok := s.addrs[addr]; ok {
		return false
	}
	s.addrs[addr] = struct{}{}
	return true
}

// Remove disarms addr. Returns false if it was not present.
func (s *BreakpointSet) Remove(addr uint32) bool {
	if _, ok := s.addrs[addr]; !ok {
		return false
	}
	delete(s.addrs, addr)
	return true
}

// Has reports whether addr is armed.
func (s *BreakpointSet) Has(addr uint32) bool {
	_, ok := s.addrs[addr]
	return ok
}

func (s *BreakpointSet) Len() int {
	return len(s.addrs)
}

// Sorted returns the armed addresses in ascending order.
func (s *BreakpointSet) Sorted() []uint32 {
	r := make([]uint32, 0, len(s.addrs))
	for addr := range s.addrs {
		r = append(r, addr)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}
