package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/deeplooplabs/repofetch/gateway"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, _, err := parseFlags("serve", args, nil)
	if err != nil {
		return err
	}

	reg := prometheus.DefaultRegisterer
	s, err := openStack(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	opts := []gateway.Option{gateway.WithLogger(s.logger)}
	if cfg.Metrics.Enabled {
		opts = append(opts, gateway.WithMetrics(cfg.Metrics.Namespace, nil))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		cors := gateway.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.CORSOrigins
		opts = append(opts, gateway.WithCORS(cors))
	}
	handler := gateway.New(s.explorer, opts...)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// No WriteTimeout: /api/ratelimit/events streams for as long as the client stays
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1 MiB
		}
		errCh := make(chan error, 1)
		go func() {
			s.logger.Info("http server listening",
				"addr", cfg.Server.Addr,
				"repository", s.explorer.Repository().String(),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	})

	if cfg.Cache.PurgeInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Cache.PurgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := s.store.PurgeExpired(ctx); n > 0 {
						s.logger.Info("purged expired cache entries", "count", n)
					}
				}
			}
		})
	}

	return g.Wait()
}
