package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
	"github.com/deeplooplabs/repofetch/provider"
	"github.com/deeplooplabs/repofetch/ratelimit"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

const defaultKeepAlive = 15 * time.Second

// Explorer is the repository access facade the gateway serves
type Explorer interface {
	Repository() repofetch.Repository
	SetRepositoryContext(owner, repo, branch string) error
	FetchDirectory(ctx context.Context, path string) ([]provider.DirEntry, error)
	FetchFile(ctx context.Context, path string) (string, error)
	FetchTags(ctx context.Context) ([]provider.Tag, error)
	ClearCache(ctx context.Context)
	CacheStats() cache.Stats
	RateLimit() ratelimit.State
	SubscribeRateLimit(fn ratelimit.Observer) func()
	ClearRateLimit()
	Breaker() breaker.Snapshot
}

// Gateway is the main HTTP handler
type Gateway struct {
	explorer       Explorer
	mux            *http.ServeMux
	cors           *CORSConfig
	metrics        *Metrics
	metricsHandler http.Handler
	logger         *slog.Logger
	keepAlive      time.Duration
	now            func() time.Time
}

// New creates a gateway serving explorer
func New(explorer Explorer, opts ...Option) *Gateway {
	g := &Gateway{
		explorer:  explorer,
		mux:       http.NewServeMux(),
		logger:    slog.Default(),
		keepAlive: defaultKeepAlive,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	g.setupRoutes()

	return g
}

func (g *Gateway) setupRoutes() {
	g.handle("GET /health", g.handleHealth)

	g.handle("GET /api/repository", g.handleGetRepository)
	g.handle("PUT /api/repository", g.handleSetRepository)

	// Resource routes reach the upstream on a miss and are gated by the rate limit signal
	g.handle("GET /api/tree", g.gated(g.handleTree))
	g.handle("GET /api/file", g.gated(g.handleFile))
	g.handle("GET /api/tags", g.gated(g.handleTags))

	g.handle("GET /api/cache/stats", g.handleCacheStats)
	g.handle("DELETE /api/cache", g.handleClearCache)

	g.handle("GET /api/ratelimit", g.handleRateLimit)
	g.handle("DELETE /api/ratelimit", g.handleClearRateLimit)
	g.handle("GET /api/ratelimit/events", g.handleRateLimitEvents)

	g.handle("GET /api/breaker", g.handleBreaker)

	if g.metricsHandler != nil {
		g.mux.Handle("GET /metrics", g.metricsHandler)
	}

	// 404 for unmatched routes
	g.mux.HandleFunc("/", g.handleNotFound)
}

// ServeHTTP implements http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.cors != nil && g.applyCORS(w, r) {
		return
	}

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = repofetch.NewRequestID()
	}
	w.Header().Set(RequestIDHeader, requestID)
	r = r.WithContext(repofetch.WithRequestID(r.Context(), requestID))

	g.mux.ServeHTTP(w, r)
}

// handle registers h under pattern, instrumented with the route's metrics
func (g *Gateway) handle(pattern string, h http.HandlerFunc) {
	if g.metrics == nil {
		g.mux.HandleFunc(pattern, h)
		return
	}

	g.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		g.metrics.ActiveRequests.Inc()
		defer g.metrics.ActiveRequests.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		g.metrics.RequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		g.metrics.RequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// gated refuses the request with 429 while the upstream rate limit is in effect
func (g *Gateway) gated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := g.explorer.RateLimit()
		if !state.Limited {
			h(w, r)
			return
		}

		if g.metrics != nil {
			g.metrics.RateLimitRejected.WithLabelValues(r.Pattern).Inc()
		}
		msg := state.Message
		if msg == "" {
			msg = "upstream rate limit exceeded"
		}
		g.fail(w, r, NewRateLimitError(msg, state.ResetAt, g.now()))
	}
}

// fail writes err as the JSON error envelope
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := toError(err, g.now())

	logger := g.logger.With("request_id", repofetch.RequestID(r.Context()), "path", r.URL.Path)
	if e.Code >= http.StatusInternalServerError {
		logger.Error("request failed", "status", e.Code, "error", err)
	} else {
		logger.Debug("request rejected", "status", e.Code, "error", err)
	}
	if g.metrics != nil {
		g.metrics.ErrorsTotal.WithLabelValues(r.Pattern, e.Type).Inc()
	}

	writeError(w, e)
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
