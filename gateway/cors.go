package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CORSConfig configures cross-origin access for the browser UI
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows any origin to use the read API
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         10 * time.Minute,
	}
}

// applyCORS sets the CORS response headers and reports whether the request
// was a preflight that has been fully answered
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !g.isOriginAllowed(origin) {
		return false
	}

	if len(g.cors.AllowedOrigins) > 0 && g.cors.AllowedOrigins[0] == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}

	if r.Method == http.MethodOptions {
		g.handlePreflight(w, r)
		w.WriteHeader(http.StatusNoContent)
		return true
	}

	if g.cors.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if len(g.cors.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(g.cors.ExposedHeaders, ", "))
	}
	return false
}

// isOriginAllowed checks if the origin is allowed
func (g *Gateway) isOriginAllowed(origin string) bool {
	for _, allowed := range g.cors.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handlePreflight handles OPTIONS preflight requests
func (g *Gateway) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if len(g.cors.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(g.cors.AllowedMethods, ", "))
	} else if method := r.Header.Get("Access-Control-Request-Method"); method != "" {
		w.Header().Set("Access-Control-Allow-Methods", method)
	}

	if len(g.cors.AllowedHeaders) > 0 {
		if g.cors.AllowedHeaders[0] == "*" {
			// Echo back the requested headers
			if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
		} else {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(g.cors.AllowedHeaders, ", "))
		}
	}

	if g.cors.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%.0f", g.cors.MaxAge.Seconds()))
	}
	if g.cors.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}
