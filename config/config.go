// Package config loads repofetch configuration from a YAML file, a .env file
// and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/deeplooplabs/repofetch"
	"github.com/deeplooplabs/repofetch/breaker"
	"github.com/deeplooplabs/repofetch/cache"
	"github.com/deeplooplabs/repofetch/provider"
	"github.com/deeplooplabs/repofetch/ratelimit"
	"github.com/deeplooplabs/repofetch/retry"
)

// Config is the top-level repofetch.yaml structure
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Repository repofetch.Repository `yaml:"repository"`
	Upstream   UpstreamConfig       `yaml:"upstream"`
	Cache      CacheConfig          `yaml:"cache"`
	Retry      RetryConfig          `yaml:"retry"`
	Breaker    BreakerConfig        `yaml:"breaker"`
	RateLimit  RateLimitConfig      `yaml:"ratelimit"`
	Metrics    MetricsConfig        `yaml:"metrics"`
	Log        LogConfig            `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent,omitempty"`

	// DialTimeout and HeaderTimeout bound connection setup and the wait for headers
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	HeaderTimeout   time.Duration `yaml:"header_timeout"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
}

type CacheConfig struct {
	// Path is the SQLite file; empty disables the durable tier
	Path             string        `yaml:"path"`
	TTL              time.Duration `yaml:"ttl"`
	MaxBytes         int64         `yaml:"max_bytes"`
	TargetRatio      float64       `yaml:"target_ratio"`
	PrimaryMaxBytes  int64         `yaml:"primary_max_bytes,omitempty"`
	FallbackMaxBytes int64         `yaml:"fallback_max_bytes"`
	SmallObjectBytes int64         `yaml:"small_object_bytes"`
	Namespace        string        `yaml:"namespace"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

type RateLimitConfig struct {
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	c := cache.DefaultConfig()
	r := retry.DefaultConfig()
	b := breaker.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Repository: repofetch.Repository{Branch: repofetch.DefaultBranch},
		Upstream: UpstreamConfig{
			BaseURL:   provider.DefaultBaseURL,
			Timeout:         30 * time.Second,
			UserAgent:       "repofetch",
			DialTimeout:     10 * time.Second,
			HeaderTimeout:   30 * time.Second,
			MaxConnsPerHost: 10,
		},
		Cache: CacheConfig{
			Path:             "repofetch-cache.db",
			TTL:              c.TTL,
			MaxBytes:         c.MaxBytes,
			TargetRatio:      c.TargetRatio,
			FallbackMaxBytes: cache.DefaultFallbackMaxBytes,
			SmallObjectBytes: c.SmallObjectBytes,
			Namespace:        c.Namespace,
			PurgeInterval:    time.Hour,
		},
		Retry: RetryConfig{
			MaxRetries:   r.MaxRetries,
			InitialDelay: r.InitialDelay,
			MaxDelay:     r.MaxDelay,
			Multiplier:   r.BackoffMultiplier,
			Jitter:       r.Jitter,
		},
		Breaker: BreakerConfig{
			FailureThreshold: b.FailureThreshold,
			ResetTimeout:     b.ResetTimeout,
		},
		RateLimit: RateLimitConfig{DefaultCooldown: ratelimit.DefaultConfig().DefaultCooldown},
		Metrics:   MetricsConfig{Enabled: true, Namespace: "repofetch"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then .env, then the environment. A missing .env is fine.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from REPOFETCH_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"REPOFETCH_ADDR":       &c.Server.Addr,
		"REPOFETCH_OWNER":      &c.Repository.Owner,
		"REPOFETCH_REPO":       &c.Repository.Repo,
		"REPOFETCH_BRANCH":     &c.Repository.Branch,
		"REPOFETCH_GITHUB_URL": &c.Upstream.BaseURL,
		"REPOFETCH_CACHE_PATH": &c.Cache.Path,
		"REPOFETCH_LOG_LEVEL":  &c.Log.Level,
		"REPOFETCH_LOG_FORMAT": &c.Log.Format,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok {
			*field = v
		}
	}

	if v, ok := lookup("REPOFETCH_CACHE_TTL"); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REPOFETCH_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = ttl
	}
	if v, ok := lookup("REPOFETCH_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidationError holds all validation failures for a config
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// Validate checks the config for correctness
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream.base_url is required")
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}
	if c.Upstream.DialTimeout < 0 || c.Upstream.HeaderTimeout < 0 {
		errs = append(errs, "upstream.dial_timeout and upstream.header_timeout must not be negative")
	}
	if c.Upstream.MaxConnsPerHost < 0 {
		errs = append(errs, "upstream.max_conns_per_host must not be negative")
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.Cache.MaxBytes <= 0 {
		errs = append(errs, "cache.max_bytes must be positive")
	}
	if c.Cache.TargetRatio <= 0 || c.Cache.TargetRatio > 1 {
		errs = append(errs, fmt.Sprintf("cache.target_ratio %v must be in (0, 1]", c.Cache.TargetRatio))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must not be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, fmt.Sprintf("retry.jitter %v must be in [0, 1)", c.Retry.Jitter))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be positive")
	}
	if c.RateLimit.DefaultCooldown < 0 {
		errs = append(errs, "ratelimit.default_cooldown must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log.format %q (must be text or json)", c.Log.Format))
	}
	if c.Repository.Owner != "" || c.Repository.Repo != "" {
		if err := c.Repository.Validate(); err != nil {
			errs = append(errs, "repository: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// CacheStoreConfig returns the cache.Store settings
func (c *Config) CacheStoreConfig() *cache.Config {
	return &cache.Config{
		TTL:              c.Cache.TTL,
		MaxBytes:         c.Cache.MaxBytes,
		TargetRatio:      c.Cache.TargetRatio,
		SmallObjectBytes: c.Cache.SmallObjectBytes,
		Namespace:        c.Cache.Namespace,
	}
}

// RetryPolicy returns the retry settings
func (c *Config) RetryPolicy() *retry.Config {
	return &retry.Config{
		MaxRetries:        c.Retry.MaxRetries,
		InitialDelay:      c.Retry.InitialDelay,
		MaxDelay:          c.Retry.MaxDelay,
		BackoffMultiplier: c.Retry.Multiplier,
		Jitter:            c.Retry.Jitter,
		Classifier:        repofetch.Retryable,
	}
}

// BreakerConfig returns the circuit breaker settings
func (c *Config) BreakerConfig() *breaker.Config {
	return &breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     c.Breaker.ResetTimeout,
	}
}

// SignalConfig returns the rate limit signal settings
func (c *Config) SignalConfig() *ratelimit.Config {
	return &ratelimit.Config{DefaultCooldown: c.RateLimit.DefaultCooldown}
}

// ProviderConfig returns the GitHub provider settings
func (c *Config) ProviderConfig() *provider.ProviderConfig {
	cfg := provider.NewProviderConfig("github").
		WithBaseURL(c.Upstream.BaseURL).
		WithTimeout(c.Upstream.Timeout).
		WithTransportTimeouts(c.Upstream.DialTimeout, c.Upstream.HeaderTimeout)
	if c.Upstream.MaxConnsPerHost > 0 {
		pool := cfg.Pool
		pool.MaxConnsPerHost = c.Upstream.MaxConnsPerHost
		pool.MaxIdleConnsPerHost = c.Upstream.MaxConnsPerHost
		cfg = cfg.WithPool(pool)
	}
	if c.Upstream.UserAgent != "" {
		cfg = cfg.WithUserAgent(c.Upstream.UserAgent)
	}
	return cfg
}

// NewLogger returns a slog logger writing to w in the configured format
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q (must be debug, info, warn or error)", s)
	}
}
