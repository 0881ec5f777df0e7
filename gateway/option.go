package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option configures the Gateway
type Option func(*Gateway)

// WithCORS enables CORS handling
func WithCORS(cors *CORSConfig) Option {
	return func(g *Gateway) {
		g.cors = cors
	}
}

// WithMetrics records HTTP metrics on reg and serves reg on /metrics.
// A nil reg uses the default Prometheus registry.
func WithMetrics(namespace string, reg *prometheus.Registry) Option {
	return func(g *Gateway) {
		if reg == nil {
			g.metrics = NewMetrics(namespace, nil)
			g.metricsHandler = promhttp.Handler()
			return
		}
		g.metrics = NewMetrics(namespace, reg)
		g.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(g *Gateway) {
		g.metricsHandler = h
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithKeepAlive sets the interval of keep-alive comments on event streams (default: 15s)
func WithKeepAlive(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.keepAlive = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}
