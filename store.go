package arbor

import (
	"context"
	"sync"
)

// Store is the abstract storage contract behind persistence. GetValue may
// be backed by network or disk I/O; it returns (nil, nil) when nothing is
// stored under key. Implementations own all resilience policy; this layer
// never retries.
type Store interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error
}

// MemoryStore is an in-memory Store for testing and custom glue. It is
// safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Seed stores value under key without counting as a write. Use it to
// arrange pre-existing state in tests.
func (s *MemoryStore) Seed(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// GetValue returns the stored bytes for key, or (nil, nil) when absent.
func (s *MemoryStore) GetValue(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// SetValue stores value under key.
func (s *MemoryStore) SetValue(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.writes++
	return nil
}

// Snapshot returns the current bytes for key and whether key exists.
func (s *MemoryStore) Snapshot(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// WriteCount returns the number of SetValue calls observed.
func (s *MemoryStore) WriteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
