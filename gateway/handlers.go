package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
	"github.com/deeplooplabs/repofetch/provider"
	"github.com/deeplooplabs/repofetch/ratelimit"
)

// TreeResponse is the body of GET /api/tree
type TreeResponse struct {
	Repository repofetch.Repository `json:"repository"`
	Path       string               `json:"path"`
	Entries    []provider.DirEntry  `json:"entries"`
}

// FileResponse is the body of GET /api/file
type FileResponse struct {
	Repository repofetch.Repository `json:"repository"`
	Path       string               `json:"path"`
	Content    string               `json:"content"`
	Size       int                  `json:"size"`
}

// TagsResponse is the body of GET /api/tags
type TagsResponse struct {
	Repository repofetch.Repository `json:"repository"`
	Tags       []provider.Tag       `json:"tags"`
}

// CacheStatsResponse is the body of GET /api/cache/stats
type CacheStatsResponse struct {
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string        `json:"status"`
	Circuit     breaker.State `json:"circuit"`
	RateLimited bool          `json:"rate_limited"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Circuit:     g.explorer.Breaker().State,
		RateLimited: g.explorer.RateLimit().Limited,
	})
}

func (g *Gateway) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, NewNotFoundError("Not found"))
}

func (g *Gateway) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.explorer.Repository())
}

func (g *Gateway) handleSetRepository(w http.ResponseWriter, r *http.Request) {
	var req repofetch.Repository
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.fail(w, r, NewValidationError("invalid JSON body", err))
		return
	}
	if err := g.explorer.SetRepositoryContext(req.Owner, req.Repo, req.Branch); err != nil {
		g.fail(w, r, err)
		return
	}

	repo := g.explorer.Repository()
	g.logger.Info("repository selected",
		"request_id", repofetch.RequestID(r.Context()),
		"repository", repo.String(),
	)
	writeJSON(w, http.StatusOK, repo)
}

func (g *Gateway) handleTree(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	entries, err := g.explorer.FetchDirectory(r.Context(), path)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{
		Repository: g.explorer.Repository(),
		Path:       path,
		Entries:    entries,
	})
}

func (g *Gateway) handleFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		g.fail(w, r, NewValidationError("path is required", nil))
		return
	}

	content, err := g.explorer.FetchFile(r.Context(), path)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(content))
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{
		Repository: g.explorer.Repository(),
		Path:       path,
		Content:    content,
		Size:       len(content),
	})
}

func (g *Gateway) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := g.explorer.FetchTags(r.Context())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TagsResponse{
		Repository: g.explorer.Repository(),
		Tags:       tags,
	})
}

func (g *Gateway) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := g.explorer.CacheStats()
	writeJSON(w, http.StatusOK, CacheStatsResponse{Stats: stats, HitRate: stats.HitRate()})
}

func (g *Gateway) handleClearCache(w http.ResponseWriter, r *http.Request) {
	g.explorer.ClearCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.explorer.RateLimit())
}

func (g *Gateway) handleClearRateLimit(w http.ResponseWriter, r *http.Request) {
	g.explorer.ClearRateLimit()
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.explorer.Breaker())
}

// handleRateLimitEvents streams the rate limit state: the current state
// first, then every change until the client goes away
func (g *Gateway) handleRateLimitEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.fail(w, r, &Error{Code: http.StatusInternalServerError, Message: "streaming unsupported", Type: "internal_error"})
		return
	}

	// Holds only the latest state; a slow client skips intermediate ones
	updates := make(chan ratelimit.State, 1)
	unsubscribe := g.explorer.SubscribeRateLimit(func(s ratelimit.State) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	if g.metrics != nil {
		g.metrics.EventStreams.Inc()
		defer g.metrics.EventStreams.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := NewEventWriter(w, flusher)
	if err := events.WriteEvent("ratelimit", g.explorer.RateLimit()); err != nil {
		return
	}

	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates:
			if err := events.WriteEvent("ratelimit", s); err != nil {
				return
			}
		case <-ticker.C:
			if err := events.WriteComment("keep-alive"); err != nil {
				return
			}
		}
	}
}
