// Package state holds the page state a peer can update through "state"
// instructions and the set() capability.
package state

import (
	"sort"
	"sync"
)

// Change describes one key written to the store.
type Change struct {
	Key   string
	Value any
	// Deleted is true when the key was removed (a nil value).
	Deleted bool
}

type Store struct {
	mu       sync.RWMutex
	values   map[string]any
	onChange func(Change)
}

func NewStore() *Store {
	return &Store{
		values: make(map[string]any),
	}
}

// OnChange registers a hook called after every write, outside the lock.
// Must be called before the store is shared.
func (s *Store) OnChange(fn func(Change)) {
	s.onChange = fn
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set writes a value. A nil value deletes the key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	if value == nil {
		delete(s.values, key)
	} else {
		s.values[key] = value
	}
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(Change{Key: key, Value: value, Deleted: value == nil})
	}
}

// Merge writes every entry of values, in key order.
func (s *Store) Merge(values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Set(k, values[k])
	}
}

// Snapshot returns a shallow copy of the current state.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the sorted keys currently set.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
