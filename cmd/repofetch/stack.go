package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
	"github.com/deeplooplabs/repofetch/config"
	"github.com/deeplooplabs/repofetch/explorer"
	"github.com/deeplooplabs/repofetch/provider"
	"github.com/deeplooplabs/repofetch/ratelimit"
)

// stack is every shared service the binary wires together
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *cache.Store
	signal   *ratelimit.Signal
	explorer *explorer.Explorer
}

// parseFlags parses the flags shared by all subcommands and loads the config
func parseFlags(name string, args []string, extra func(*flag.FlagSet)) (*config.Config, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("REPOFETCH_CONFIG"), "path to repofetch.yaml")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, fs, nil
}

// openStack builds the cache, breaker, signal and explorer from cfg.
// reg may be nil when metrics are not exported.
func openStack(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*stack, error) {
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	// A nil primary leaves the fallback tier on its own
	var primary cache.Backend
	if cfg.Cache.Path != "" {
		sqlite, err := cache.OpenSQLite(ctx, cfg.Cache.Path, cache.SQLiteOptions{
			Namespace: cfg.Cache.Namespace,
			MaxBytes:  cfg.Cache.PrimaryMaxBytes,
		})
		if err != nil {
			logger.Warn("durable cache unavailable, using memory only", "path", cfg.Cache.Path, "error", err)
		} else {
			primary = sqlite
		}
	}
	backend := cache.NewTiered(primary,
		cache.NewMemoryBackend(cfg.Cache.Namespace, cfg.Cache.FallbackMaxBytes),
		cfg.Cache.SmallObjectBytes,
	)

	store := cache.NewStore(backend, cfg.CacheStoreConfig(), cache.WithLogger(logger))
	if err := store.Load(ctx); err != nil {
		logger.Warn("could not index existing cache entries", "error", err)
	}

	breakerCfg := cfg.BreakerConfig()
	breakerCfg.OnStateChange = func(from, to breaker.State) {
		logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
	}

	p, err := provider.NewGitHubProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	signal := ratelimit.NewSignal(cfg.SignalConfig())
	opts := []explorer.Option{
		explorer.WithBreaker(breaker.New(breakerCfg)),
		explorer.WithSignal(signal),
		explorer.WithRetryConfig(cfg.RetryPolicy()),
		explorer.WithRepository(cfg.Repository),
		explorer.WithLogger(logger),
	}
	if reg != nil && cfg.Metrics.Enabled {
		opts = append(opts, explorer.WithMetrics(cfg.Metrics.Namespace, reg))
	}

	return &stack{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		signal:   signal,
		explorer: explorer.New(p, store, opts...),
	}, nil
}

func (s *stack) Close() error {
	s.signal.Close()
	return s.store.Close()
}
