package gossip

import (
	"sort"
	"sync"
	"sync/atomic"
)

// RumorStore is the read side of a Store that census building depends on.
type RumorStore[T Rumor] interface {
	// UpdateCounter increases on every accepted change.
	UpdateCounter() uint64
	// WithKeys calls fn for each key in sorted order. fn must not retain rumors.
	WithKeys(fn func(key string, rumors map[string]T))
}

// Store holds rumors by key and id.
type Store[T Rumor] struct {
	mu      sync.RWMutex
	rumors  map[string]map[string]T
	counter atomic.Uint64
}

func NewStore[T Rumor]() *Store[T] {
	return &Store[T]{rumors: make(map[string]map[string]T)}
}

// Insert adds r when it is unknown or newer than the held copy. It reports
// whether the store changed.
func (s *Store[T]) Insert(r T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.rumors[r.Key()]
	if !ok {
		byID = make(map[string]T)
		s.rumors[r.Key()] = byID
	}
	if cur, ok := byID[r.ID()]; ok && cur.Version() >= r.Version() {
		return false
	}
	byID[r.ID()] = r
	s.counter.Add(1)
	return true
}

// Remove drops a rumor; it reports whether anything was removed.
func (s *Store[T]) Remove(key, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.rumors[key]
	if !ok {
		return false
	}
	if _, ok := byID[id]; !ok {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(s.rumors, key)
	}
	s.counter.Add(1)
	return true
}

func (s *Store[T]) Get(key, id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rumors[key][id]
	return r, ok
}

func (s *Store[T]) UpdateCounter() uint64 { return s.counter.Load() }

func (s *Store[T]) WithKeys(fn func(key string, rumors map[string]T)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.rumors))
	for k := range s.rumors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(k, s.rumors[k])
	}
}

// All returns a copy of every rumor, for pushing to peers.
func (s *Store[T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []T
	for _, byID := range s.rumors {
		for _, r := range byID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byID := range s.rumors {
		n += len(byID)
	}
	return n
}
