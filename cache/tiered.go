package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrorHandler is told about every backend failure the Tiered backend absorbs
type ErrorHandler func(backend, op string, err error)

// errorReporter is implemented by backends that report their own absorbed failures
type errorReporter interface {
	OnError(fn ErrorHandler)
}

// Tiered tries a primary backend first and falls back to a secondary one.
// Small entries land in the secondary when the primary refuses a write.
type Tiered struct {
	primary          Backend
	secondary        Backend
	smallObjectBytes int64
	onError          ErrorHandler
}

// NewTiered composes primary and secondary. Either may be nil, in which case
// the other one is used alone.
func NewTiered(primary, secondary Backend, smallObjectBytes int64) *Tiered {
	if smallObjectBytes <= 0 {
		smallObjectBytes = DefaultConfig().SmallObjectBytes
	}
	return &Tiered{
		primary:          primary,
		secondary:        secondary,
		smallObjectBytes: smallObjectBytes,
	}
}

// OnError installs the handler for absorbed backend failures
func (t *Tiered) OnError(fn ErrorHandler) {
	t.onError = fn
}

func (t *Tiered) report(b Backend, op string, err error) {
	if t.onError != nil {
		t.onError(b.Name(), op, err)
	}
}

// Name returns the backend name
func (t *Tiered) Name() string {
	switch {
	case t.primary != nil && t.secondary != nil:
		return t.primary.Name() + "+" + t.secondary.Name()
	case t.primary != nil:
		return t.primary.Name()
	case t.secondary != nil:
		return t.secondary.Name()
	default:
		return "none"
	}
}

// Get returns the primary's entry, or the secondary's when the primary has
// none or fails
func (t *Tiered) Get(ctx context.Context, key string) (*Entry, error) {
	var primaryErr error
	if t.primary != nil {
		entry, err := t.primary.Get(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			t.report(t.primary, "get", err)
			primaryErr = err
		}
	}

	if t.secondary == nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return nil, ErrNotFound
	}

	entry, err := t.secondary.Get(ctx, key)
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, ErrNotFound) {
		if primaryErr == nil {
			return nil, ErrNotFound
		}
		return nil, primaryErr
	}
	t.report(t.secondary, "get", err)
	return nil, errors.Join(primaryErr, err)
}

// Put writes to the primary, and to the secondary only for small entries the
// primary refused
func (t *Tiered) Put(ctx context.Context, entry *Entry) error {
	var primaryErr error
	if t.primary != nil {
		primaryErr = t.primary.Put(ctx, entry)
		if primaryErr == nil {
			if t.secondary != nil {
				// drop any older copy so it cannot shadow the new one later
				if err := t.secondary.Delete(ctx, entry.Key); err != nil {
					t.report(t.secondary, "delete", err)
				}
			}
			return nil
		}
		t.report(t.primary, "put", primaryErr)
		// the primary is read first, so an older copy there would shadow
		// whatever the secondary now holds
		if err := t.primary.Delete(ctx, entry.Key); err != nil {
			t.report(t.primary, "delete", err)
		}
	} else {
		primaryErr = ErrUnavailable
	}

	if t.secondary == nil {
		return primaryErr
	}
	if entry.Size >= t.smallObjectBytes {
		return fmt.Errorf("entry of %d bytes too large for fallback: %w", entry.Size, primaryErr)
	}
	if err := t.secondary.Put(ctx, entry); err != nil {
		t.report(t.secondary, "put", err)
		return errors.Join(primaryErr, err)
	}
	return nil
}

// Delete removes key from both backends
func (t *Tiered) Delete(ctx context.Context, key string) error {
	return t.each("delete", func(b Backend) error { return b.Delete(ctx, key) })
}

// Clear empties both backends
func (t *Tiered) Clear(ctx context.Context) error {
	return t.each("clear", func(b Backend) error { return b.Clear(ctx) })
}

// List merges both backends; the primary wins on duplicate keys
func (t *Tiered) List(ctx context.Context) ([]Meta, error) {
	seen := make(map[string]bool)
	var (
		metas []Meta
		errs  []error
	)
	for _, b := range t.backends() {
		list, err := b.List(ctx)
		if err != nil {
			t.report(b, "list", err)
			errs = append(errs, err)
			continue
		}
		for _, m := range list {
			if seen[m.Key] {
				continue
			}
			seen[m.Key] = true
			metas = append(metas, m)
		}
	}
	return metas, errors.Join(errs...)
}

// Close closes both backends
func (t *Tiered) Close() error {
	var errs []error
	for _, b := range t.backends() {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered) each(op string, fn func(Backend) error) error {
	var errs []error
	for _, b := range t.backends() {
		if err := fn(b); err != nil {
			t.report(b, op, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered) backends() []Backend {
	var out []Backend
	if t.primary != nil {
		out = append(out, t.primary)
	}
	if t.secondary != nil {
		out = append(out, t.secondary)
	}
	return out
}

var _ Backend = (*Tiered)(nil)
