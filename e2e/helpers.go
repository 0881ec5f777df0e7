package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
	"github.com/deeplooplabs/repofetch/explorer"
	"github.com/deeplooplabs/repofetch/gateway"
	"github.com/deeplooplabs/repofetch/provider"
	"github.com/deeplooplabs/repofetch/ratelimit"
	"github.com/deeplooplabs/repofetch/retry"
)

// Options tunes a TestEnvironment. Zero values pick test-friendly defaults.
type Options struct {
	// CachePath is the SQLite file; empty uses a fresh file in t.TempDir()
	CachePath string

	Retry   *retry.Config
	Breaker *breaker.Config
}

// TestEnvironment is the full stack (SQLite cache, GitHub provider, explorer
// and HTTP gateway) wired against a MockGitHub
type TestEnvironment struct {
	Server   *httptest.Server
	GitHub   *MockGitHub
	Explorer *explorer.Explorer
	Store    *cache.Store
	Signal   *ratelimit.Signal
	Registry *prometheus.Registry
	T        *testing.T

	closeOnce sync.Once
}

// NewTestEnvironment wires the stack against github, which the caller owns
func NewTestEnvironment(t *testing.T, github *MockGitHub, opts Options) *TestEnvironment {
	t.Helper()

	if opts.CachePath == "" {
		opts.CachePath = filepath.Join(t.TempDir(), "cache.db")
	}
	if opts.Retry == nil {
		opts.Retry = &retry.Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	sqlite, err := cache.OpenSQLite(ctx, opts.CachePath, cache.SQLiteOptions{Namespace: "e2e"})
	require.NoError(t, err)
	backend := cache.NewTiered(sqlite, cache.NewMemoryBackend("e2e", 0), 0)
	store := cache.NewStore(backend, &cache.Config{Namespace: "e2e"}, cache.WithLogger(logger))
	require.NoError(t, store.Load(ctx))

	p, err := provider.NewGitHubProvider(provider.NewProviderConfig("github").
		WithBaseURL(github.URL()).
		WithTimeout(5 * time.Second))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	signal := ratelimit.NewSignal(nil)
	exp := explorer.New(p, store,
		explorer.WithRepository(repofetch.Repository{Owner: "torvalds", Repo: "linux", Branch: "v6.1"}),
		explorer.WithBreaker(breaker.New(opts.Breaker)),
		explorer.WithSignal(signal),
		explorer.WithRetryConfig(opts.Retry),
		explorer.WithLogger(logger),
		explorer.WithMetrics("e2e", reg),
	)

	gw := gateway.New(exp,
		gateway.WithLogger(logger),
		gateway.WithMetrics("e2e", reg),
	)

	env := &TestEnvironment{
		Server:   httptest.NewServer(gw),
		GitHub:   github,
		Explorer: exp,
		Store:    store,
		Signal:   signal,
		Registry: reg,
		T:        t,
	}
	t.Cleanup(env.Close)
	return env
}

// Close stops the server and closes the cache. It is safe to call twice.
func (e *TestEnvironment) Close() {
	e.closeOnce.Do(func() {
		e.Server.Close()
		e.Signal.Close()
		_ = e.Store.Close()
	})
}

// Get issues a GET against the gateway and decodes a JSON body into out
// (which may be nil)
func (e *TestEnvironment) Get(target string, out any) *http.Response {
	return e.Do(http.MethodGet, target, out)
}

// Do issues a request against the gateway and decodes a JSON body into out
func (e *TestEnvironment) Do(method, target string, out any) *http.Response {
	e.T.Helper()

	req, err := http.NewRequest(method, e.Server.URL+target, nil)
	require.NoError(e.T, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.T, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(e.T, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// ErrorBody is the gateway's JSON error envelope
type ErrorBody struct {
	Error struct {
		Message           string     `json:"message"`
		Type              string     `json:"type"`
		UpstreamStatus    int        `json:"upstream_status"`
		ResetAt           *time.Time `json:"reset_at"`
		RetryAfterSeconds int        `json:"retry_after_seconds"`
	} `json:"error"`
}

// seedLinux fills github with a small slice of torvalds/linux at v6.1
func seedLinux(github *MockGitHub) {
	github.AddFile("v6.1", "Makefile", "VERSION = 6\nPATCHLEVEL = 1\n")
	github.AddFile("v6.1", "kernel/sched/core.c", "void schedule(void) {}\n")
	github.AddFile("v6.1", "kernel/fork.c", "pid_t kernel_clone(void) { return 0; }\n")
	github.AddFile("v6.1", "mm/slab.c", "/* slab */\n")
	github.AddTag("v6.1", "830b3c68c1fb1e9176028d02ef86f3cf76aa2476")
	github.AddTag("v6.0", "4fe89d07dcc2804c8b562f6c7896a45643d34b2f")
}
