package usage

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore aggregates usage in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	totals map[string]Totals
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: make(map[string]Totals)}
}

// WriteBatch implements Store.
func (s *MemoryStore) WriteBatch(_ context.Context, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e == nil {
			continue
		}
		t := s.totals[e.Provider]
		t.Requests++
		t.Tokens += int64(e.Tokens)
		s.totals[e.Provider] = t
	}
	return nil
}

// Totals implements Store.
func (s *MemoryStore) Totals(_ context.Context) (map[string]Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.totals), nil
}

// Flush implements Store.
func (s *MemoryStore) Flush(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
