package storage

import (
	"context"
	"sync"

	"github.com/nadmax/callscope/internal/cache"
)

var _ cache.Adapter = (*MemoryAdapter)(nil)

// MemoryAdapter is a process-local persistent tier, used when no external
// store is configured.
type MemoryAdapter struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{items: make(map[string]string)}
}

func (m *MemoryAdapter) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryAdapter) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = value
	return nil
}

func (m *MemoryAdapter) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *MemoryAdapter) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]string)
	return nil
}

func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}
