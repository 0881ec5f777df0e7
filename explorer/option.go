package explorer

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/hook"
	"github.com/deeplooplabs/repofetch/ratelimit"
	"github.com/deeplooplabs/repofetch/retry"
)

// Option configures the Explorer
type Option func(*Explorer)

// WithBreaker shares b with every upstream call
func WithBreaker(b *breaker.Breaker) Option {
	return func(e *Explorer) {
		if b != nil {
			e.breaker = b
		}
	}
}

// WithSignal sets the rate limit signal upstream rate limits are reported to
func WithSignal(s *ratelimit.Signal) Option {
	return func(e *Explorer) {
		if s != nil {
			e.signal = s
		}
	}
}

// WithRetryConfig sets the retry policy
func WithRetryConfig(cfg *retry.Config) Option {
	return func(e *Explorer) {
		if cfg != nil {
			e.retry = cfg
		}
	}
}

// WithRepository sets the initial repository context
func WithRepository(repo repofetch.Repository) Option {
	return func(e *Explorer) {
		e.repo = repofetch.NewRepositoryContext(repo)
	}
}

// WithMetrics registers the explorer collectors on reg under namespace
func WithMetrics(namespace string, reg prometheus.Registerer) Option {
	return func(e *Explorer) {
		e.metrics = NewMetrics(namespace, reg)
	}
}

// WithHooks sets the hook registry
func WithHooks(hooks *hook.Registry) Option {
	return func(e *Explorer) {
		if hooks != nil {
			e.hooks = hooks
		}
	}
}

// WithHook registers a single hook. Hooks are registered once every option
// has run, so they land in the registry given by WithHooks whatever the order.
func WithHook(h hook.Hook) Option {
	return func(e *Explorer) {
		e.extraHooks = append(e.extraHooks, h)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Explorer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPrefetchConcurrency bounds how many directories Prefetch loads at once (default: 4)
func WithPrefetchConcurrency(n int) Option {
	return func(e *Explorer) {
		if n > 0 {
			e.prefetchLimit = n
		}
	}
}
