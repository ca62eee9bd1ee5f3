// Package presence records which pages are connected to the peer, the route
// each one is showing and the last event it reported.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for an unknown or expired session id.
var ErrNotFound = errors.New("presence: session not found")

// Entry is one page as the peer last saw it.
type Entry struct {
	ID        string    `json:"id"`
	Route     string    `json:"route"`
	LastEvent string    `json:"lastEvent"`
	SeenAt    time.Time `json:"seenAt"`
}

// Store keeps entries keyed by session id. Entries expire after the store's
// TTL unless touched again.
type Store interface {
	Touch(ctx context.Context, e Entry) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore returns a process-local store. A zero ttl never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Touch(_ context.Context, e Entry) error {
	if e.SeenAt.IsZero() {
		e.SeenAt = m.now()
	}
	m.mu.Lock()
	m.entries[e.ID] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || m.expired(e) {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Entry, 0, len(m.entries))
	for id, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, id)
			continue
		}
		result = append(result, e)
	}
	sortEntries(result)
	return result, nil
}

func (m *MemoryStore) expired(e Entry) bool {
	return m.ttl > 0 && m.now().Sub(e.SeenAt) > m.ttl
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
}
