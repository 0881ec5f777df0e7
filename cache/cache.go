// Package cache implements the tiered response cache that sits in front of
// the upstream API: a durable primary backend, a size-bounded fallback
// backend and a Store that applies TTLs, size accounting and eviction.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Backend when the key is absent
	ErrNotFound = errors.New("cache entry not found")

	// ErrQuotaExceeded is returned by a Backend that has no room for an entry
	ErrQuotaExceeded = errors.New("cache quota exceeded")

	// ErrUnavailable is returned when a backend cannot be used at all
	ErrUnavailable = errors.New("cache backend unavailable")
)

// Backend is a key/value store for cache entries.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs
	Name() string

	// Get returns the entry stored under key, or ErrNotFound
	Get(ctx context.Context, key string) (*Entry, error)

	// Put stores the entry, replacing any previous entry with the same key
	Put(ctx context.Context, entry *Entry) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by the backend
	Clear(ctx context.Context) error

	// List returns metadata for every stored entry
	List(ctx context.Context) ([]Meta, error)

	// Close releases backend resources
	Close() error
}

// Entry is one cached response
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	StoredAt  time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Size      int64           `json:"size"`
}

// Expired reports whether the entry is past its expiry at now
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Meta is the part of an entry needed for eviction accounting
type Meta struct {
	Key       string
	StoredAt  time.Time
	ExpiresAt time.Time
	Size      int64
}

// EstimateSize returns the approximate stored size of a payload under key
func EstimateSize(key string, data []byte) int64 {
	return int64(len(key) + len(data))
}

// Stats represents cache statistics. They are advisory and not persisted.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Errors     uint64 `json:"errors"`
	TotalBytes int64  `json:"total_bytes"`
	Entries    int    `json:"entries"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config holds cache configuration
type Config struct {
	// TTL is how long an entry stays valid (default: 24h)
	TTL time.Duration

	// MaxBytes is the eviction ceiling for all tracked entries (default: 50MiB)
	MaxBytes int64

	// TargetRatio is the fraction of MaxBytes eviction shrinks to (default: 0.8)
	TargetRatio float64

	// SmallObjectBytes is the largest entry the fallback backend accepts (default: 1MiB)
	SmallObjectBytes int64

	// Namespace prefixes stored keys so several caches can share a backend
	Namespace string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:              24 * time.Hour,
		MaxBytes:         50 * 1024 * 1024,
		TargetRatio:      0.8,
		SmallObjectBytes: 1024 * 1024,
		Namespace:        "repofetch",
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.TTL <= 0 {
		out.TTL = d.TTL
	}
	if out.MaxBytes <= 0 {
		out.MaxBytes = d.MaxBytes
	}
	if out.TargetRatio <= 0 || out.TargetRatio > 1 {
		out.TargetRatio = d.TargetRatio
	}
	if out.SmallObjectBytes <= 0 {
		out.SmallObjectBytes = d.SmallObjectBytes
	}
	if out.Namespace == "" {
		out.Namespace = d.Namespace
	}
	return &out
}
