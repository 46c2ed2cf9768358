package runtime

import (
	"sort"
	"sync"

	"github.com/drblury/cmdflow/internal/runtime/engine"
)

// destinationSet tracks the destinations with an active subscription. The
// worker writes it; callers read it.
type destinationSet struct {
	mu    sync.RWMutex
	items map[string]engine.Destination
}

func newDestinationSet() *destinationSet {
	return &destinationSet{items: make(map[string]engine.Destination)}
}

func (s *destinationSet) add(dest engine.Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[dest.Key()] = dest
}

func (s *destinationSet) remove(dest engine.Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, dest.Key())
}

func (s *destinationSet) lookup(dest engine.Destination) (engine.Destination, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.items[dest.Key()]
	return found, ok
}

// list returns the destinations ordered by key.
func (s *destinationSet) list() []engine.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Destination, 0, len(s.items))
	for _, dest := range s.items {
		out = append(out, dest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
