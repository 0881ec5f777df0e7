package hook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deeplooplabs/repofetch/cache"
)

// Source says where a fetch result came from
type Source string

const (
	SourceCache    Source = "cache"
	SourceUpstream Source = "upstream"
)

// FetchInfo describes a finished fetch
type FetchInfo struct {
	RequestID string
	Source    Source
	Attempts  int
	Duration  time.Duration
	Err       error
}

// Hook is the base interface for all hooks
type Hook interface {
	// Name returns the unique name of this hook
	Name() string
}

// FetchHook is called around every facade fetch
type FetchHook interface {
	Hook
	// BeforeFetch is called before the cache lookup. Returning an error aborts the fetch.
	BeforeFetch(ctx context.Context, key cache.Key) error
	// AfterFetch is called once the fetch has an outcome
	AfterFetch(ctx context.Context, key cache.Key, info FetchInfo)
}

// ErrorHook is called when a fetch fails
type ErrorHook interface {
	Hook
	// OnError is called with the error returned to the caller
	OnError(ctx context.Context, key cache.Key, err error)
}

// Registry manages registered hooks
type Registry struct {
	hooks      []Hook
	fetchHooks []FetchHook
	errorHooks []ErrorHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks:      make([]Hook, 0),
		fetchHooks: make([]FetchHook, 0),
		errorHooks: make([]ErrorHook, 0),
	}
}

// Register registers a hook based on its concrete type.
// A hook implementing both interfaces is added to both lists.
func (r *Registry) Register(hooks ...Hook) {
	for _, hook := range hooks {
		r.hooks = append(r.hooks, hook)

		known := false
		if h, ok := hook.(FetchHook); ok {
			r.fetchHooks = append(r.fetchHooks, h)
			known = true
		}
		if h, ok := hook.(ErrorHook); ok {
			r.errorHooks = append(r.errorHooks, h)
			known = true
		}
		if !known {
			slog.Warn(fmt.Sprintf("unknown hook type: %T", hook))
		}
	}
}

// BeforeFetch runs every fetch hook in registration order and stops at the first error
func (r *Registry) BeforeFetch(ctx context.Context, key cache.Key) error {
	for _, h := range r.fetchHooks {
		if err := h.BeforeFetch(ctx, key); err != nil {
			return fmt.Errorf("hook %s: %w", h.Name(), err)
		}
	}
	return nil
}

// AfterFetch runs every fetch hook, then every error hook when info.Err is set
func (r *Registry) AfterFetch(ctx context.Context, key cache.Key, info FetchInfo) {
	for _, h := range r.fetchHooks {
		h.AfterFetch(ctx, key, info)
	}
	if info.Err != nil {
		for _, h := range r.errorHooks {
			h.OnError(ctx, key, info.Err)
		}
	}
}

// FetchHooks returns all fetch hooks
func (r *Registry) FetchHooks() []FetchHook {
	return r.fetchHooks
}

// ErrorHooks returns all error hooks
func (r *Registry) ErrorHooks() []ErrorHook {
	return r.errorHooks
}

// All returns all registered hooks
func (r *Registry) All() []Hook {
	return r.hooks
}
