package cache

import (
	"context"
	"sync"
)

// DefaultFallbackMaxBytes bounds the in-memory fallback backend (default: 5MiB)
const DefaultFallbackMaxBytes = 5 * 1024 * 1024

// MemoryBackend is the size-bounded fallback store.
// Like a browser's local storage it refuses writes once full instead of evicting.
type MemoryBackend struct {
	mu       sync.RWMutex
	prefix   string
	maxBytes int64
	items    map[string]*Entry
	size     int64
}

// NewMemoryBackend creates a fallback backend holding at most maxBytes.
// Keys are stored under "<namespace>-fallback:".
func NewMemoryBackend(namespace string, maxBytes int64) *MemoryBackend {
	if maxBytes <= 0 {
		maxBytes = DefaultFallbackMaxBytes
	}
	return &MemoryBackend{
		prefix:   namespace + "-fallback:",
		maxBytes: maxBytes,
		items:    make(map[string]*Entry),
	}
}

// Name returns the backend name
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Get retrieves an entry
func (m *MemoryBackend) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, found := m.items[m.prefix+key]
	if !found {
		return nil, ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

// Put stores an entry, failing with ErrQuotaExceeded when it does not fit
func (m *MemoryBackend) Put(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	storedKey := m.prefix + entry.Key
	next := m.size + entry.Size
	if old, found := m.items[storedKey]; found {
		next -= old.Size
	}
	if next > m.maxBytes {
		return ErrQuotaExceeded
	}

	clone := *entry
	m.items[storedKey] = &clone
	m.size = next
	return nil
}

// Delete removes an entry
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	storedKey := m.prefix + key
	if entry, found := m.items[storedKey]; found {
		m.size -= entry.Size
		delete(m.items, storedKey)
	}
	return nil
}

// Clear removes all entries
func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*Entry)
	m.size = 0
	return nil
}

// List returns metadata for every entry
func (m *MemoryBackend) List(ctx context.Context) ([]Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metas := make([]Meta, 0, len(m.items))
	for _, entry := range m.items {
		metas = append(metas, Meta{
			Key:       entry.Key,
			StoredAt:  entry.StoredAt,
			ExpiresAt: entry.ExpiresAt,
			Size:      entry.Size,
		})
	}
	return metas, nil
}

// Size returns the bytes currently held
func (m *MemoryBackend) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Close is a no-op
func (m *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
