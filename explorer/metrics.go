package explorer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
)

// Metrics holds all Prometheus metrics for the explorer
type Metrics struct {
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	Retries          *prometheus.CounterVec
	RateLimited      prometheus.Counter

	factory   promauto.Factory
	namespace string
}

// NewMetrics creates the explorer collectors on reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "repofetch"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"kind"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"kind"},
		),
		UpstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Total number of calls that reached the upstream API",
			},
			[]string{"kind", "outcome"}, // outcome: success or an error kind
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream call duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of upstream retries",
			},
			[]string{"kind"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of upstream rate limit errors reported to the signal",
			},
		),
		factory:   factory,
		namespace: namespace,
	}
}

// watch registers gauges that read the store and breaker at scrape time
func (m *Metrics) watch(store *cache.Store, b *breaker.Breaker) {
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "cache_bytes",
			Help:      "Estimated bytes held by the cache",
		},
		func() float64 { return float64(store.Stats().TotalBytes) },
	)
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "cache_entries",
			Help:      "Number of entries tracked by the cache",
		},
		func() float64 { return float64(store.Stats().Entries) },
	)
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "cache_errors",
			Help:      "Cache backend errors absorbed since the last clear",
		},
		func() float64 { return float64(store.Stats().Errors) },
	)
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		func() float64 { return circuitStateValue(b.State()) },
	)
}

func circuitStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (m *Metrics) cacheHit(kind cache.Kind) {
	if m != nil {
		m.CacheHits.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) cacheMiss(kind cache.Kind) {
	if m != nil {
		m.CacheMisses.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) upstream(kind cache.Kind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(repofetch.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.UpstreamRequests.WithLabelValues(string(kind), outcome).Inc()
	m.UpstreamDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) retry(kind cache.Kind) {
	if m != nil {
		m.Retries.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) rateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}
