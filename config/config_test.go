package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "main", cfg.Repository.Branch)
	assert.Equal(t, "https://api.github.com/", cfg.Upstream.BaseURL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, int64(50*1024*1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 0.8, cfg.Cache.TargetRatio)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.DefaultCooldown)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: "127.0.0.1:9000"
  cors_origins: ["https://explorer.example.com"]
repository:
  owner: torvalds
  repo: linux
upstream:
  timeout: 5s
cache:
  path: ""
  ttl: 1h
  max_bytes: 1048576
retry:
  max_retries: 1
  initial_delay: 250ms
breaker:
  failure_threshold: 2
  reset_timeout: 30s
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://explorer.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "torvalds", cfg.Repository.Owner)
	assert.Equal(t, "main", cfg.Repository.Branch, "unset fields keep their defaults")
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Empty(t, cfg.Cache.Path)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)

	store := cfg.CacheStoreConfig()
	assert.Equal(t, int64(1048576), store.MaxBytes)
	assert.Equal(t, "repofetch", store.Namespace)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 1, policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, policy.InitialDelay)
	assert.NotNil(t, policy.Classifier)

	b := cfg.BreakerConfig()
	assert.Equal(t, 2, b.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.ResetTimeout)

	p := cfg.ProviderConfig()
	assert.Equal(t, 5*time.Second, p.Timeout)
	assert.Equal(t, "repofetch", p.UserAgent)
	assert.Equal(t, 10*time.Second, p.DialTimeout)
	assert.Equal(t, 10, p.Pool.MaxConnsPerHost)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`
cache:
  ttl: -1s
  target_ratio: 1.5
retry:
  jitter: 1
breaker:
  failure_threshold: 0
log:
  level: verbose
`))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 5)
	assert.Contains(t, err.Error(), "cache.ttl")
	assert.Contains(t, err.Error(), "log.level")

	_, err = Parse([]byte("server: [unterminated"))
	assert.ErrorContains(t, err, "parse yaml")
}

func TestParse_InvalidRepository(t *testing.T) {
	_, err := Parse([]byte(`
repository:
  owner: torvalds/linux
  repo: linux
`))
	assert.ErrorContains(t, err, "repository")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"REPOFETCH_ADDR":         ":7070",
		"REPOFETCH_OWNER":        "golang",
		"REPOFETCH_REPO":         "go",
		"REPOFETCH_BRANCH":       "release-branch.go1.24",
		"REPOFETCH_GITHUB_URL":   "http://127.0.0.1:3000/",
		"REPOFETCH_CACHE_PATH":   "/var/lib/repofetch/cache.db",
		"REPOFETCH_CACHE_TTL":    "2h",
		"REPOFETCH_CORS_ORIGINS": "https://a.example.com, https://b.example.com,",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "golang", cfg.Repository.Owner)
	assert.Equal(t, "go", cfg.Repository.Repo)
	assert.Equal(t, "release-branch.go1.24", cfg.Repository.Branch)
	assert.Equal(t, "http://127.0.0.1:3000/", cfg.Upstream.BaseURL)
	assert.Equal(t, "/var/lib/repofetch/cache.db", cfg.Cache.Path)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)

	env["REPOFETCH_CACHE_TTL"] = "soon"
	assert.ErrorContains(t, Default().applyEnv(lookup), "REPOFETCH_CACHE_TTL")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repofetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repository:\n  owner: torvalds\n  repo: linux\n"), 0o600))

	t.Setenv("REPOFETCH_BRANCH", "v6.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "torvalds", cfg.Repository.Owner)
	assert.Equal(t, "v6.1", cfg.Repository.Branch, "environment wins over the file")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "key", "torvalds/linux/v6.1/tags/")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"msg":"kept"`)
}
