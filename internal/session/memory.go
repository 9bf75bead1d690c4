package session

import (
	"context"
	"sync"
)

// MemoryStore keeps a profile's values in process memory. Tests and
// single-process deployments without Redis use it.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]string)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len is the number of keys currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
