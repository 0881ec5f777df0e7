package provider

import (
	"net"
	"net/http"
	"time"
)

// DefaultBaseURL is the public GitHub REST API
const DefaultBaseURL = "https://api.github.com/"

// Pool holds the connection pool settings of the upstream transport
type Pool struct {
	MaxIdleConns        int           // default: 100
	MaxConnsPerHost     int           // default: 10
	MaxIdleConnsPerHost int           // default: 10
	IdleConnTimeout     time.Duration // default: 90s
}

// ProviderConfig contains provider configuration
type ProviderConfig struct {
	// Name identifies the provider in logs
	Name string

	// BaseURL is the REST API root; a GitHub Enterprise URL ends in /api/v3/
	BaseURL string

	// UserAgent is sent with every request (optional)
	UserAgent string

	// HTTPClient replaces the pooled client built from the fields below (optional)
	HTTPClient *http.Client

	// Timeout bounds a single upstream call, retries excluded (default: 30s)
	Timeout time.Duration

	// DialTimeout bounds connection setup (default: 10s)
	DialTimeout time.Duration

	// HeaderTimeout bounds the wait for response headers (default: 30s)
	HeaderTimeout time.Duration

	Pool Pool
}

// DefaultConfig returns a default provider configuration
func DefaultConfig() *ProviderConfig {
	return NewProviderConfig("github")
}

// NewProviderConfig creates a configuration for the public API under name
func NewProviderConfig(name string) *ProviderConfig {
	return &ProviderConfig{
		Name:          name,
		BaseURL:       DefaultBaseURL,
		Timeout:       30 * time.Second,
		DialTimeout:   10 * time.Second,
		HeaderTimeout: 30 * time.Second,
		Pool: Pool{
			MaxIdleConns:        100,
			MaxConnsPerHost:     10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// WithBaseURL points the provider at another API root
func (c *ProviderConfig) WithBaseURL(baseURL string) *ProviderConfig {
	c.BaseURL = baseURL
	return c
}

// WithUserAgent sets the User-Agent header
func (c *ProviderConfig) WithUserAgent(userAgent string) *ProviderConfig {
	c.UserAgent = userAgent
	return c
}

// WithTimeout sets the per-call timeout
func (c *ProviderConfig) WithTimeout(timeout time.Duration) *ProviderConfig {
	c.Timeout = timeout
	return c
}

// WithTransportTimeouts sets the dial and response header timeouts.
// Zero leaves a value unchanged.
func (c *ProviderConfig) WithTransportTimeouts(dial, header time.Duration) *ProviderConfig {
	if dial > 0 {
		c.DialTimeout = dial
	}
	if header > 0 {
		c.HeaderTimeout = header
	}
	return c
}

// WithPool replaces the connection pool settings
func (c *ProviderConfig) WithPool(pool Pool) *ProviderConfig {
	c.Pool = pool
	return c
}

// WithHTTPClient sets the HTTP client
func (c *ProviderConfig) WithHTTPClient(client *http.Client) *ProviderConfig {
	c.HTTPClient = client
	return c
}

// GetHTTPClient returns HTTPClient, or a pooled client built from the config.
// The client has no overall timeout: Timeout is applied per call through
// the context so the caller's cancellation still wins.
func (c *ProviderConfig) GetHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          c.Pool.MaxIdleConns,
		MaxConnsPerHost:       c.Pool.MaxConnsPerHost,
		MaxIdleConnsPerHost:   c.Pool.MaxIdleConnsPerHost,
		IdleConnTimeout:       c.Pool.IdleConnTimeout,
		ResponseHeaderTimeout: c.HeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
	if c.DialTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: c.DialTimeout}).DialContext
	}

	return &http.Client{Transport: transport}
}
