package e2e

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockGitHub is a fake GitHub REST API serving the contents and tags
// endpoints from an in-memory tree
type MockGitHub struct {
	Server *httptest.Server

	mu       sync.Mutex
	files    map[string]map[string]string // ref -> path -> content
	tags     []mockTag
	failures []mockFailure
	limited  time.Time
	hits     map[string]int
}

type mockTag struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type mockFailure struct {
	status int
	body   string
}

type mockEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

// NewMockGitHub starts a fake GitHub server. It is closed by the caller.
func NewMockGitHub() *MockGitHub {
	m := &MockGitHub{
		files: make(map[string]map[string]string),
		hits:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", m.handleContents)
	mux.HandleFunc("GET /repos/{owner}/{repo}/tags", m.handleTags)
	m.Server = httptest.NewServer(mux)
	return m
}

// Close shuts the server down
func (m *MockGitHub) Close() {
	m.Server.Close()
}

// URL returns the API base URL
func (m *MockGitHub) URL() string {
	return m.Server.URL + "/"
}

// AddFile adds a file at ref. Parent directories exist implicitly.
func (m *MockGitHub) AddFile(ref, filePath, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files[ref] == nil {
		m.files[ref] = make(map[string]string)
	}
	m.files[ref][strings.Trim(filePath, "/")] = content
}

// AddTag appends a tag
func (m *MockGitHub) AddTag(name, sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := mockTag{Name: name}
	t.Commit.SHA = sha
	m.tags = append(m.tags, t)
}

// FailNext makes the next n requests answer with status
func (m *MockGitHub) FailNext(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < n; i++ {
		m.failures = append(m.failures, mockFailure{
			status: status,
			body:   `{"message": "` + http.StatusText(status) + `"}`,
		})
	}
}

// RateLimitUntil answers every request with the primary rate limit
// response until reset
func (m *MockGitHub) RateLimitUntil(reset time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limited = reset
}

// Hits returns how many requests reached the server for urlPath
func (m *MockGitHub) Hits(urlPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[urlPath]
}

// TotalHits returns how many requests reached the server
func (m *MockGitHub) TotalHits() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, n := range m.hits {
		total += n
	}
	return total
}

// intercept records the hit and writes any injected failure. It reports
// whether the request has been answered.
func (m *MockGitHub) intercept(w http.ResponseWriter, r *http.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits[r.URL.Path]++

	if time.Now().Before(m.limited) {
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(m.limited.Unix(), 10))
		writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded for 203.0.113.7."}`)
		return true
	}

	if len(m.failures) > 0 {
		f := m.failures[0]
		m.failures = m.failures[1:]
		writeJSON(w, f.status, f.body)
		return true
	}
	return false
}

func (m *MockGitHub) handleContents(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}

	ref := r.URL.Query().Get("ref")
	target := strings.Trim(r.PathValue("path"), "/")

	m.mu.Lock()
	tree := m.files[ref]
	content, isFile := tree[target]
	var entries []mockEntry
	if !isFile {
		entries = listDir(tree, target)
	}
	m.mu.Unlock()

	switch {
	case isFile:
		body, _ := json.Marshal(map[string]any{
			"type":     "file",
			"encoding": "base64",
			"name":     path.Base(target),
			"path":     target,
			"size":     len(content),
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		})
		writeJSON(w, http.StatusOK, string(body))
	case len(entries) > 0:
		body, _ := json.Marshal(entries)
		writeJSON(w, http.StatusOK, string(body))
	default:
		writeJSON(w, http.StatusNotFound, `{"message": "Not Found"}`)
	}
}

func (m *MockGitHub) handleTags(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}

	m.mu.Lock()
	body, _ := json.Marshal(m.tags)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, string(body))
}

// listDir returns the direct children of dir in GitHub's (unsorted) order
func listDir(tree map[string]string, dir string) []mockEntry {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	seen := make(map[string]bool)
	var entries []mockEntry
	for p, content := range tree {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, nested := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true

		e := mockEntry{Name: name, Path: prefix + name, Type: "file", Size: len(content)}
		if nested {
			e.Type, e.Size = "dir", 0
		}
		entries = append(entries, e)
	}
	// Reverse order so the client has to sort
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })
	return entries
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
