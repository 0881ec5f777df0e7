package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplooplabs/repofetch"
)

var linux = repofetch.Repository{Owner: "torvalds", Repo: "linux", Branch: "v6.1"}

func newTestProvider(t *testing.T, mux *http.ServeMux) *GitHubProvider {
	t.Helper()

	server := httptest.NewServer(mux)
	t.Cleanup(func() { server.Close() })

	p, err := NewGitHubProvider(NewProviderConfig("github").WithBaseURL(server.URL))
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGitHubProvider_ListDirectory(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/contents/kernel", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v6.1", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, `[
			{"name": "sys.c", "path": "kernel/sys.c", "type": "file", "size": 120},
			{"name": "sched", "path": "kernel/sched", "type": "dir", "size": 0},
			{"name": "bpf", "path": "kernel/bpf", "type": "dir", "size": 0},
			{"name": "acct.c", "path": "kernel/acct.c", "type": "file", "size": 42}
		]`)
	})
	p := newTestProvider(t, mux)

	entries, err := p.ListDirectory(context.Background(), linux, "kernel")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"bpf", "sched", "acct.c", "sys.c"}, names)
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, DirEntry{Name: "acct.c", Path: "kernel/acct.c", Type: "file", Size: 42}, entries[2])
}

func TestGitHubProvider_ListDirectory_Root(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/contents/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"name": "README", "path": "README", "type": "file", "size": 1}]`)
	})
	p := newTestProvider(t, mux)

	entries, err := p.ListDirectory(context.Background(), linux, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGitHubProvider_GetFile(t *testing.T) {
	t.Parallel()

	source := "// SPDX-License-Identifier: GPL-2.0-only\nvoid schedule(void) {}\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/contents/kernel/sched/core.c", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v6.1", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, fmt.Sprintf(
			`{"type": "file", "encoding": "base64", "name": "core.c", "path": "kernel/sched/core.c", "content": %q}`,
			base64.StdEncoding.EncodeToString([]byte(source)),
		))
	})
	p := newTestProvider(t, mux)

	content, err := p.GetFile(context.Background(), linux, "kernel/sched/core.c")
	require.NoError(t, err)
	assert.Equal(t, source, content)
}

func TestGitHubProvider_GetFile_Directory(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/contents/kernel", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"name": "sys.c", "path": "kernel/sys.c", "type": "file"}]`)
	})
	p := newTestProvider(t, mux)

	_, err := p.GetFile(context.Background(), linux, "kernel")
	require.Error(t, err)
	assert.Equal(t, repofetch.KindDecode, repofetch.KindOf(err))
}

func TestGitHubProvider_ListTags(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/tags", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, `[
			{"name": "v6.1", "commit": {"sha": "830b3c68c1fb1e9176028d02ef86f3cf76aa2476"}},
			{"name": "v6.0", "commit": {"sha": "4fe89d07dcc2804c8b562f6c7896a45643d34b2f"}}
		]`)
	})
	p := newTestProvider(t, mux)

	tags, err := p.ListTags(context.Background(), linux)
	require.NoError(t, err)
	assert.Equal(t, []Tag{
		{Name: "v6.1", CommitSHA: "830b3c68c1fb1e9176028d02ef86f3cf76aa2476"},
		{Name: "v6.0", CommitSHA: "4fe89d07dcc2804c8b562f6c7896a45643d34b2f"},
	}, tags)
}

func TestGitHubProvider_Errors(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(10 * time.Minute).Truncate(time.Second)

	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantKind  repofetch.ErrorKind
		wantCode  int
		retryable bool
	}{
		{
			name: "primary rate limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
				writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded for 203.0.113.7."}`)
			},
			wantKind: repofetch.KindRateLimited,
			wantCode: http.StatusForbidden,
		},
		{
			name: "rate limit message without headers",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded"}`)
			},
			wantKind: repofetch.KindRateLimited,
			wantCode: http.StatusForbidden,
		},
		{
			name: "permission denied",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusForbidden, `{"message": "Resource not accessible"}`)
			},
			wantKind: repofetch.KindClientError,
			wantCode: http.StatusForbidden,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusNotFound, `{"message": "Not Found"}`)
			},
			wantKind: repofetch.KindNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, `{"message": "Server Error"}`)
			},
			wantKind:  repofetch.KindServerError,
			wantCode:  http.StatusInternalServerError,
			retryable: true,
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `<html>upstream proxy error</html>`)
			},
			wantKind: repofetch.KindDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc("/repos/torvalds/linux/contents/kernel", tt.handler)
			p := newTestProvider(t, mux)

			_, err := p.ListDirectory(context.Background(), linux, "kernel")
			require.Error(t, err)

			upErr, ok := repofetch.AsUpstreamError(err)
			require.True(t, ok, "expected UpstreamError, got %T: %v", err, err)
			assert.Equal(t, tt.wantKind, upErr.Kind)
			assert.Equal(t, tt.wantCode, upErr.StatusCode)
			assert.Equal(t, tt.retryable, repofetch.Retryable(err))
		})
	}
}

func TestGitHubProvider_RateLimitResetAt(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded"}`)
	})
	p := newTestProvider(t, mux)

	_, err := p.ListTags(context.Background(), linux)
	upErr, ok := repofetch.AsUpstreamError(err)
	require.True(t, ok)
	assert.True(t, upErr.ResetAt.Equal(reset), "reset %v, got %v", reset, upErr.ResetAt)
}

func TestGitHubProvider_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/tags", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	p, err := NewGitHubProvider(NewProviderConfig("github").
		WithBaseURL(server.URL).
		WithTimeout(20 * time.Millisecond))
	require.NoError(t, err)

	_, err = p.ListTags(context.Background(), linux)
	require.Error(t, err)
	assert.Equal(t, repofetch.KindNetwork, repofetch.KindOf(err))
	assert.True(t, repofetch.Retryable(err))
}

func TestGitHubProvider_CallerCancellation(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/torvalds/linux/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	p := newTestProvider(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ListTags(ctx, linux)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, repofetch.Retryable(err))
}

func TestProviderConfig(t *testing.T) {
	t.Parallel()

	config := NewProviderConfig("github").
		WithBaseURL("https://ghe.example.com/api/v3/").
		WithUserAgent("repofetch-test").
		WithTimeout(5 * time.Second).
		WithTransportTimeouts(2*time.Second, 0).
		WithPool(Pool{MaxIdleConns: 4, MaxConnsPerHost: 2, MaxIdleConnsPerHost: 2, IdleConnTimeout: time.Minute})

	p, err := NewGitHubProvider(config)
	require.NoError(t, err)

	assert.Equal(t, "github", p.Name())
	assert.Equal(t, 5*time.Second, p.Config().Timeout)
	assert.Equal(t, "https://ghe.example.com/api/v3/", p.client.BaseURL.String())
	assert.Equal(t, "repofetch-test", p.client.UserAgent)
	assert.Equal(t, 30*time.Second, config.HeaderTimeout, "zero keeps the default")

	transport, ok := config.GetHTTPClient().Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 2, transport.MaxConnsPerHost)
	assert.Equal(t, 30*time.Second, transport.ResponseHeaderTimeout)
	assert.Zero(t, config.GetHTTPClient().Timeout, "timeouts are applied per call")
}
