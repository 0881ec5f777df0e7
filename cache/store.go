package cache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the cache the rest of the application talks to.
// Backend failures never reach the caller: reads degrade to misses and
// writes are dropped.
type Store struct {
	backend Backend
	config  *Config
	logger  *slog.Logger
	now     func() time.Time

	// delegated is set when the backend reports its own failures
	delegated bool

	mu    sync.Mutex
	index map[string]Meta
	size  int64

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithLogger sets the logger used for absorbed backend errors
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store over backend
func NewStore(backend Backend, config *Config, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		config:  config.withDefaults(),
		logger:  slog.Default(),
		now:     time.Now,
		index:   make(map[string]Meta),
	}
	for _, opt := range opts {
		opt(s)
	}
	if r, ok := backend.(errorReporter); ok {
		r.OnError(s.recordError)
		s.delegated = true
	}
	return s
}

// Config returns the effective configuration
func (s *Store) Config() Config {
	return *s.config
}

// Load rebuilds the size index from the backend, then evicts if the ceiling
// is already exceeded
func (s *Store) Load(ctx context.Context) error {
	metas, err := s.backend.List(ctx)
	if err != nil && len(metas) == 0 {
		return err
	}

	s.mu.Lock()
	s.index = make(map[string]Meta, len(metas))
	s.size = 0
	for _, m := range metas {
		s.index[m.Key] = m
		s.size += m.Size
	}
	s.mu.Unlock()

	s.evict(ctx)
	return nil
}

// Get returns the payload stored under key. Expired entries are deleted and
// reported as misses.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !s.delegated {
			s.recordError(s.backend.Name(), "get", err)
		}
		s.misses.Add(1)
		return nil, false
	}

	if entry.Expired(s.now()) {
		s.remove(ctx, key)
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return entry.Data, true
}

// Put stores payload under key for the configured TTL. A write no backend
// accepts is dropped; the cache stays correct, only colder.
func (s *Store) Put(ctx context.Context, key string, payload []byte) {
	now := s.now()
	entry := &Entry{
		Key:       key,
		Data:      payload,
		StoredAt:  now,
		ExpiresAt: now.Add(s.config.TTL),
		Size:      EstimateSize(key, payload),
	}

	if err := s.backend.Put(ctx, entry); err != nil {
		if !s.delegated {
			s.recordError(s.backend.Name(), "put", err)
		}
		s.logger.Debug("cache write dropped", "key", key, "size", entry.Size, "error", err)
		return
	}

	s.mu.Lock()
	if old, found := s.index[key]; found {
		s.size -= old.Size
	}
	s.index[key] = Meta{Key: key, StoredAt: entry.StoredAt, ExpiresAt: entry.ExpiresAt, Size: entry.Size}
	s.size += entry.Size
	over := s.size > s.config.MaxBytes
	s.mu.Unlock()

	if over {
		s.evict(ctx)
	}
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) {
	s.remove(ctx, key)
}

// Clear empties every backend and resets the statistics
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Clear(ctx); err != nil && !s.delegated {
		s.recordError(s.backend.Name(), "clear", err)
	}

	s.mu.Lock()
	s.index = make(map[string]Meta)
	s.size = 0
	s.mu.Unlock()

	s.hits.Store(0)
	s.misses.Store(0)
	s.errors.Store(0)
}

// PurgeExpired deletes every expired entry and returns how many were removed
func (s *Store) PurgeExpired(ctx context.Context) int {
	metas, err := s.backend.List(ctx)
	if err != nil && !s.delegated {
		s.recordError(s.backend.Name(), "list", err)
	}

	now := s.now()
	purged := 0
	for _, m := range metas {
		if now.After(m.ExpiresAt) {
			s.remove(ctx, m.Key)
			purged++
		}
	}
	return purged
}

// Stats returns a snapshot of cache statistics
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Errors:     s.errors.Load(),
		TotalBytes: s.size,
		Entries:    len(s.index),
	}
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// evict deletes the oldest-written entries until the tracked size is at or
// below TargetRatio of MaxBytes. Write time, not access time, decides.
func (s *Store) evict(ctx context.Context) {
	s.mu.Lock()
	if s.size <= s.config.MaxBytes {
		s.mu.Unlock()
		return
	}

	metas := make([]Meta, 0, len(s.index))
	for _, m := range s.index {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].StoredAt.Before(metas[j].StoredAt)
	})

	target := int64(float64(s.config.MaxBytes) * s.config.TargetRatio)
	var victims []string
	for _, m := range metas {
		if s.size <= target {
			break
		}
		delete(s.index, m.Key)
		s.size -= m.Size
		victims = append(victims, m.Key)
	}
	s.mu.Unlock()

	for _, key := range victims {
		if err := s.backend.Delete(ctx, key); err != nil && !s.delegated {
			s.recordError(s.backend.Name(), "delete", err)
		}
	}
	s.logger.Debug("cache eviction", "evicted", len(victims), "target_bytes", target)
}

func (s *Store) remove(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil && !s.delegated {
		s.recordError(s.backend.Name(), "delete", err)
	}
	s.forget(key)
}

func (s *Store) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, found := s.index[key]; found {
		s.size -= old.Size
		delete(s.index, key)
	}
}

func (s *Store) recordError(backend, op string, err error) {
	s.errors.Add(1)
	s.logger.Warn("cache backend error", "backend", backend, "op", op, "error", err)
}
