// Package explorer is the repository access facade. Every read of the
// upstream repository goes through it: cache lookup first, then the
// upstream call wrapped in retry and circuit breaker, then write-back.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
	"github.com/deeplooplabs/repofetch/hook"
	"github.com/deeplooplabs/repofetch/provider"
	"github.com/deeplooplabs/repofetch/ratelimit"
	"github.com/deeplooplabs/repofetch/retry"
)

const defaultPrefetchLimit = 4

// Explorer serves directory listings, file bodies and tags of the current
// repository from the cache, falling back to the upstream provider
type Explorer struct {
	provider provider.Provider
	store    *cache.Store
	repo     *repofetch.RepositoryContext
	breaker  *breaker.Breaker
	signal   *ratelimit.Signal
	retry    *retry.Config
	hooks    *hook.Registry
	metrics  *Metrics
	logger   *slog.Logger

	group         singleflight.Group
	prefetchLimit int
	extraHooks    []hook.Hook
}

// New creates an explorer reading through store from p.
// Unset collaborators get their package defaults.
func New(p provider.Provider, store *cache.Store, opts ...Option) *Explorer {
	e := &Explorer{
		provider:      p,
		store:         store,
		repo:          repofetch.NewRepositoryContext(repofetch.Repository{}),
		retry:         retry.DefaultConfig(),
		hooks:         hook.NewRegistry(),
		logger:        slog.Default(),
		prefetchLimit: defaultPrefetchLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hooks.Register(e.extraHooks...)
	e.extraHooks = nil
	if e.breaker == nil {
		e.breaker = breaker.New(nil)
	}
	if e.signal == nil {
		e.signal = ratelimit.NewSignal(nil)
	}
	if e.metrics != nil {
		e.metrics.watch(e.store, e.breaker)
	}
	return e
}

// SetRepositoryContext switches the repository used by subsequent fetches.
// Cached entries of other repositories stay valid under their own keys.
func (e *Explorer) SetRepositoryContext(owner, repo, branch string) error {
	if err := e.repo.Set(owner, repo, branch); err != nil {
		return err
	}
	e.logger.Info("repository context changed", "repository", e.repo.Get().String())
	return nil
}

// Repository returns the current repository identity
func (e *Explorer) Repository() repofetch.Repository {
	return e.repo.Get()
}

// FetchDirectory lists the directory at path ("" is the repository root)
func (e *Explorer) FetchDirectory(ctx context.Context, path string) ([]provider.DirEntry, error) {
	return fetch(ctx, e, cache.KindDirectory, path, func(ctx context.Context, repo repofetch.Repository, path string) ([]provider.DirEntry, error) {
		return e.provider.ListDirectory(ctx, repo, path)
	})
}

// FetchFile returns the decoded contents of the file at path
func (e *Explorer) FetchFile(ctx context.Context, path string) (string, error) {
	return fetch(ctx, e, cache.KindFile, path, func(ctx context.Context, repo repofetch.Repository, path string) (string, error) {
		return e.provider.GetFile(ctx, repo, path)
	})
}

// FetchTags returns the first page of tags of the current repository
func (e *Explorer) FetchTags(ctx context.Context) ([]provider.Tag, error) {
	return fetch(ctx, e, cache.KindTags, "", func(ctx context.Context, repo repofetch.Repository, _ string) ([]provider.Tag, error) {
		return e.provider.ListTags(ctx, repo)
	})
}

// Prefetch warms the cache with the listings of paths. At most
// prefetchLimit directories are fetched at once; the first error cancels
// the rest and is returned.
func (e *Explorer) Prefetch(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.prefetchLimit)

	for _, path := range paths {
		g.Go(func() error {
			_, err := e.FetchDirectory(ctx, path)
			return err
		})
	}
	return g.Wait()
}

// ClearCache removes every cached entry and resets the statistics
func (e *Explorer) ClearCache(ctx context.Context) {
	e.store.Clear(ctx)
	e.logger.Info("cache cleared")
}

// CacheStats returns the current cache statistics
func (e *Explorer) CacheStats() cache.Stats {
	return e.store.Stats()
}

// RateLimit returns the current rate limit state
func (e *Explorer) RateLimit() ratelimit.State {
	return e.signal.State()
}

// SubscribeRateLimit registers fn for rate limit changes and returns its unsubscribe func
func (e *Explorer) SubscribeRateLimit(fn ratelimit.Observer) func() {
	return e.signal.Subscribe(fn)
}

// ClearRateLimit drops the rate limit state before its reset time
func (e *Explorer) ClearRateLimit() {
	e.signal.Clear()
}

// Breaker returns a snapshot of the upstream circuit breaker
func (e *Explorer) Breaker() breaker.Snapshot {
	return e.breaker.Snapshot()
}

type upstreamResult struct {
	payload  []byte
	attempts int
}

func fetch[T any](ctx context.Context, e *Explorer, kind cache.Kind, path string,
	call func(context.Context, repofetch.Repository, string) (T, error),
) (T, error) {
	var zero T

	repo := e.repo.Get()
	if err := repo.Validate(); err != nil {
		return zero, err
	}

	ctx, requestID := repofetch.EnsureRequestID(ctx)
	key := cache.NewKey(repo.Owner, repo.Repo, repo.Branch, kind, path)
	logger := e.logger.With("request_id", requestID, "key", key.String())

	if err := e.hooks.BeforeFetch(ctx, key); err != nil {
		return zero, err
	}

	start := time.Now()
	info := hook.FetchInfo{RequestID: requestID}
	defer func() {
		info.Duration = time.Since(start)
		e.hooks.AfterFetch(ctx, key, info)
	}()

	if payload, ok := e.store.Get(ctx, key.String()); ok {
		var v T
		err := json.Unmarshal(payload, &v)
		if err == nil {
			e.metrics.cacheHit(kind)
			info.Source = hook.SourceCache
			logger.Debug("cache hit")
			return v, nil
		}
		logger.Warn("dropping undecodable cache entry", "error", err)
		e.store.Delete(ctx, key.String())
	}
	e.metrics.cacheMiss(kind)
	info.Source = hook.SourceUpstream

	// The shared load outlives any one caller; the provider bounds each
	// upstream request with its own timeout.
	loadCtx := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key.String(), func() (any, error) {
		return upstream(loadCtx, e, key, repo, logger, call)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		logger.Debug("caller stopped waiting for upstream", "error", ctx.Err())
		info.Err = ctx.Err()
		return zero, info.Err
	}

	r, _ := res.Val.(upstreamResult)
	info.Attempts = r.attempts
	if res.Err != nil {
		info.Err = res.Err
		return zero, res.Err
	}
	if res.Shared {
		logger.Debug("shared in-flight upstream call")
	}

	var v T
	if err := json.Unmarshal(r.payload, &v); err != nil {
		info.Err = repofetch.NewDecodeError("decoding upstream result", err)
		return zero, info.Err
	}
	return v, nil
}

// upstream runs call under retry and the breaker, reports failures to the
// rate limit signal and writes successes back to the store
func upstream[T any](ctx context.Context, e *Explorer, key cache.Key, repo repofetch.Repository, logger *slog.Logger,
	call func(context.Context, repofetch.Repository, string) (T, error),
) (upstreamResult, error) {
	policy := *e.retry
	onRetry := e.retry.OnRetry
	policy.OnRetry = func(a retry.Attempt) {
		e.metrics.retry(key.Kind)
		logger.Warn("retrying upstream call",
			"attempt", a.Index+1,
			"delay", a.Delay,
			"error", a.Err,
		)
		if onRetry != nil {
			onRetry(a)
		}
	}

	result := retry.Do(ctx, &policy, func(ctx context.Context) (T, error) {
		return breaker.Execute(ctx, e.breaker, func(ctx context.Context) (T, error) {
			start := time.Now()
			v, err := call(ctx, repo, key.Path)
			e.metrics.upstream(key.Kind, err, time.Since(start))
			return v, err
		})
	})

	if !result.Success {
		if e.signal.Report(result.Err) {
			e.metrics.rateLimited()
			logger.Warn("upstream rate limit reached", "reset_at", e.signal.State().ResetAt)
		}
		level := slog.LevelError
		if errors.Is(result.Err, context.Canceled) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "upstream fetch failed",
			"attempts", result.Attempts,
			"status", repofetch.StatusCode(result.Err),
			"error", result.Err,
		)
		return upstreamResult{attempts: result.Attempts}, result.Err
	}

	payload, err := json.Marshal(result.Data)
	if err != nil {
		return upstreamResult{attempts: result.Attempts}, repofetch.NewDecodeError("encoding upstream result", err)
	}
	e.store.Put(ctx, key.String(), payload)

	logger.Info("fetched from upstream",
		"attempts", result.Attempts,
		"duration", result.TotalTime,
		"bytes", len(payload),
	)
	return upstreamResult{payload: payload, attempts: result.Attempts}, nil
}
