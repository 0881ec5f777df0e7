package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(NewMemoryBackend("test", 0), nil)
	ctx := context.Background()

	key := NewKey("torvalds", "linux", "v6.1", KindFile, "kernel/sched/core.c").String()
	store.Put(ctx, key, []byte(`"source"`))

	data, ok := store.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `"source"`, string(data))

	_, ok = store.Get(ctx, "torvalds/linux/v6.1/file/missing")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, EstimateSize(key, []byte(`"source"`)), stats.TotalBytes)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.0001)
}

func TestStore_OverwriteAfterPrimaryQuota(t *testing.T) {
	primary := newFaultyBackend()
	store := NewStore(NewTiered(primary, NewMemoryBackend("test", 0), 0), nil)
	ctx := context.Background()

	key := NewKey("torvalds", "linux", "v6.1", KindFile, "Makefile").String()
	store.Put(ctx, key, []byte(`"old"`))

	primary.putErr = ErrQuotaExceeded
	store.Put(ctx, key, []byte(`"new"`))

	data, ok := store.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `"new"`, string(data))
}

func TestStore_Expiry(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(NewMemoryBackend("test", 0), &Config{TTL: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	store.Put(ctx, "k", []byte("1"))
	clock.Advance(59 * time.Minute)
	_, ok := store.Get(ctx, "k")
	require.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = store.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Stats().Entries)
	assert.Zero(t, store.Stats().TotalBytes)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store := NewStore(NewMemoryBackend("test", 0), nil)
	ctx := context.Background()

	store.Put(ctx, "a", []byte("1"))
	store.Get(ctx, "a")
	store.Get(ctx, "b")

	store.Clear(ctx)
	store.Clear(ctx)

	assert.Equal(t, Stats{}, store.Stats())
	_, ok := store.Get(ctx, "a")
	assert.False(t, ok)
}

func TestStore_EvictsOldestWritesToTarget(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(NewMemoryBackend("test", 0), &Config{MaxBytes: 100, TargetRatio: 0.8}, WithClock(clock.Now))
	ctx := context.Background()

	// each entry is 10 bytes: 2 byte key, 8 byte payload
	for i := 0; i < 10; i++ {
		store.Put(ctx, fmt.Sprintf("k%d", i), []byte("12345678"))
		clock.Advance(time.Second)
	}
	require.Equal(t, int64(100), store.Stats().TotalBytes)

	// reading k0 does not protect it; eviction goes by write time
	_, ok := store.Get(ctx, "k0")
	require.True(t, ok)

	store.Put(ctx, "kx", []byte("123456789"))

	stats := store.Stats()
	assert.LessOrEqual(t, stats.TotalBytes, int64(80))
	assert.Equal(t, 7, stats.Entries)

	for _, evicted := range []string{"k0", "k1", "k2", "k3"} {
		_, ok := store.Get(ctx, evicted)
		assert.False(t, ok, evicted)
	}
	for _, kept := range []string{"k4", "k9", "kx"} {
		_, ok := store.Get(ctx, kept)
		assert.True(t, ok, kept)
	}
}

func TestStore_LargeWriteDroppedWhenPrimaryFails(t *testing.T) {
	primary := newFaultyBackend()
	primary.putErr = ErrQuotaExceeded
	tiered := NewTiered(primary, NewMemoryBackend("test", 0), 64)
	store := NewStore(tiered, &Config{SmallObjectBytes: 64})
	ctx := context.Background()

	store.Put(ctx, "big", make([]byte, 128))
	store.Put(ctx, "small", []byte("1"))

	_, ok := store.Get(ctx, "big")
	assert.False(t, ok)
	_, ok = store.Get(ctx, "small")
	assert.True(t, ok)

	stats := store.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(2), stats.Errors)
}

func TestStore_PrimaryReadErrorCounted(t *testing.T) {
	primary := newFaultyBackend()
	secondary := NewMemoryBackend("test", 0)
	store := NewStore(NewTiered(primary, secondary, 0), nil)
	ctx := context.Background()

	require.NoError(t, secondary.Put(ctx, newEntry("k", "1", time.Now())))
	primary.getErr = errDisk

	data, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "1", string(data))
	assert.Equal(t, uint64(1), store.Stats().Errors)
}

func TestStore_BackendErrorsNeverSurface(t *testing.T) {
	backend := newFaultyBackend()
	backend.getErr = errDisk
	backend.putErr = errDisk
	store := NewStore(backend, nil)
	ctx := context.Background()

	store.Put(ctx, "k", []byte("1"))
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0, stats.Entries)
}

func TestStore_PurgeExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(NewMemoryBackend("test", 0), &Config{TTL: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	store.Put(ctx, "old", []byte("1"))
	clock.Advance(30 * time.Minute)
	store.Put(ctx, "new", []byte("1"))
	clock.Advance(45 * time.Minute)

	assert.Equal(t, 1, store.PurgeExpired(ctx))
	assert.Equal(t, 1, store.Stats().Entries)
}

func TestStore_LoadRebuildsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	db, err := OpenSQLite(ctx, path, SQLiteOptions{})
	require.NoError(t, err)
	store := NewStore(db, nil)
	store.Put(ctx, "a", []byte("1"))
	store.Put(ctx, "b", []byte("22"))
	require.NoError(t, store.Close())

	db, err = OpenSQLite(ctx, path, SQLiteOptions{})
	require.NoError(t, err)
	store = NewStore(db, nil)
	defer store.Close()

	require.NoError(t, store.Load(ctx))
	stats := store.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(5), stats.TotalBytes)
}
