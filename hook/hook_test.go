package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/deeplooplabs/repofetch/cache"
)

// mockHook implements Hook interface for testing
type mockHook struct {
	name string
}

func (m *mockHook) Name() string {
	return m.name
}

// mockFetchHook implements FetchHook
type mockFetchHook struct {
	mockHook
	beforeErr error
	before    []cache.Key
	after     []FetchInfo
}

func (m *mockFetchHook) BeforeFetch(ctx context.Context, key cache.Key) error {
	m.before = append(m.before, key)
	return m.beforeErr
}

func (m *mockFetchHook) AfterFetch(ctx context.Context, key cache.Key, info FetchInfo) {
	m.after = append(m.after, info)
}

// mockErrorHook implements ErrorHook
type mockErrorHook struct {
	mockHook
	errs []error
}

func (m *mockErrorHook) OnError(ctx context.Context, key cache.Key, err error) {
	m.errs = append(m.errs, err)
}

func TestHookRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	registry.Register(&mockHook{name: "plain"})
	registry.Register(&mockFetchHook{mockHook: mockHook{name: "fetch"}})
	registry.Register(&mockErrorHook{mockHook: mockHook{name: "errors"}})

	if len(registry.All()) != 3 {
		t.Errorf("expected 3 hooks, got %d", len(registry.All()))
	}
	if len(registry.FetchHooks()) != 1 {
		t.Errorf("expected 1 fetch hook, got %d", len(registry.FetchHooks()))
	}
	if len(registry.ErrorHooks()) != 1 {
		t.Errorf("expected 1 error hook, got %d", len(registry.ErrorHooks()))
	}
}

func TestFetchHook(t *testing.T) {
	registry := NewRegistry()
	h := &mockFetchHook{mockHook: mockHook{name: "fetch"}}
	registry.Register(h)

	key := cache.NewKey("torvalds", "linux", "v6.1", cache.KindFile, "Makefile")
	if err := registry.BeforeFetch(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registry.AfterFetch(context.Background(), key, FetchInfo{Source: SourceUpstream, Attempts: 1})

	if len(h.before) != 1 || h.before[0] != key {
		t.Errorf("expected BeforeFetch with %v, got %v", key, h.before)
	}
	if len(h.after) != 1 || h.after[0].Source != SourceUpstream {
		t.Errorf("expected AfterFetch from upstream, got %v", h.after)
	}
}

func TestFetchHook_Abort(t *testing.T) {
	registry := NewRegistry()
	denied := errors.New("denied")
	registry.Register(&mockFetchHook{mockHook: mockHook{name: "deny"}, beforeErr: denied})

	err := registry.BeforeFetch(context.Background(), cache.Key{})
	if !errors.Is(err, denied) {
		t.Fatalf("expected denied error, got %v", err)
	}
}

func TestErrorHook(t *testing.T) {
	registry := NewRegistry()
	h := &mockErrorHook{mockHook: mockHook{name: "errors"}}
	registry.Register(h)

	registry.AfterFetch(context.Background(), cache.Key{}, FetchInfo{Source: SourceCache})
	if len(h.errs) != 0 {
		t.Fatalf("expected no error callbacks on success, got %d", len(h.errs))
	}

	boom := errors.New("boom")
	registry.AfterFetch(context.Background(), cache.Key{}, FetchInfo{Source: SourceUpstream, Err: boom})
	if len(h.errs) != 1 || !errors.Is(h.errs[0], boom) {
		t.Fatalf("expected one error callback, got %v", h.errs)
	}
}
