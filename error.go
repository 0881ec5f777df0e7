package repofetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrorKind tags an UpstreamError with the failure class it belongs to
type ErrorKind string

const (
	// KindRateLimited means the upstream quota is exhausted
	KindRateLimited ErrorKind = "rate_limited"
	// KindNotFound means the requested resource does not exist
	KindNotFound ErrorKind = "not_found"
	// KindClientError covers the remaining 4xx responses
	KindClientError ErrorKind = "client_error"
	// KindServerError covers 5xx responses
	KindServerError ErrorKind = "server_error"
	// KindNetwork covers connection failures and request timeouts
	KindNetwork ErrorKind = "network_error"
	// KindDecode means the upstream answered with a payload we could not use
	KindDecode ErrorKind = "decode_error"
	// KindCircuitOpen means the call was rejected without reaching the upstream
	KindCircuitOpen ErrorKind = "circuit_open"
)

// UpstreamError is the single error type produced at the transport boundary.
// Consumers branch on Kind and StatusCode instead of parsing messages.
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string

	// ResetAt is set for rate-limited errors when the upstream reported it
	ResetAt time.Time

	// RetryAfter is set for secondary rate limits and open circuits
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewRateLimitedError creates a rate limit error. resetAt may be zero when unknown.
func NewRateLimitedError(message string, resetAt time.Time, err error) *UpstreamError {
	return &UpstreamError{
		Kind:       KindRateLimited,
		StatusCode: http.StatusForbidden,
		Message:    message,
		ResetAt:    resetAt,
		Err:        err,
	}
}

// NewStatusError creates an error from a non-2xx upstream response
func NewStatusError(statusCode int, message string, err error) *UpstreamError {
	kind := KindClientError
	switch {
	case statusCode == http.StatusNotFound:
		kind = KindNotFound
	case statusCode >= 500:
		kind = KindServerError
	}
	return &UpstreamError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// NewNetworkError creates an error for a request that never got a response
func NewNetworkError(message string, err error) *UpstreamError {
	return &UpstreamError{
		Kind:    KindNetwork,
		Message: message,
		Err:     err,
	}
}

// NewDecodeError creates an error for a malformed or unexpected payload
func NewDecodeError(message string, err error) *UpstreamError {
	return &UpstreamError{
		Kind:    KindDecode,
		Message: message,
		Err:     err,
	}
}

// NewCircuitOpenError creates the error returned while the breaker rejects calls
func NewCircuitOpenError(retryAfter time.Duration) *UpstreamError {
	return &UpstreamError{
		Kind:       KindCircuitOpen,
		StatusCode: http.StatusServiceUnavailable,
		Message:    "upstream temporarily unavailable",
		RetryAfter: retryAfter,
	}
}

// AsUpstreamError extracts an UpstreamError from err's chain
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a rate limit error
func IsRateLimited(err error) bool {
	upErr, ok := AsUpstreamError(err)
	return ok && upErr.Kind == KindRateLimited
}

// IsCircuitOpen reports whether err was produced by an open circuit breaker
func IsCircuitOpen(err error) bool {
	upErr, ok := AsUpstreamError(err)
	return ok && upErr.Kind == KindCircuitOpen
}

// IsNotFound reports whether err is an upstream 404
func IsNotFound(err error) bool {
	upErr, ok := AsUpstreamError(err)
	return ok && upErr.Kind == KindNotFound
}

// KindOf returns the kind of the UpstreamError in err's chain, or "" for any other error
func KindOf(err error) ErrorKind {
	if upErr, ok := AsUpstreamError(err); ok {
		return upErr.Kind
	}
	return ""
}

// StatusCode returns the upstream HTTP status carried by err, or 0
func StatusCode(err error) int {
	if upErr, ok := AsUpstreamError(err); ok {
		return upErr.StatusCode
	}
	return 0
}

// retryableStatusCodes are the statuses worth another attempt.
// 403 is deliberately absent: it signals a rate limit or a permission problem.
var retryableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Retryable classifies err as transient (true) or permanent (false)
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if upErr, ok := AsUpstreamError(err); ok {
		switch upErr.Kind {
		case KindRateLimited, KindCircuitOpen, KindDecode, KindNotFound:
			return false
		case KindNetwork:
			return true
		}
		if upErr.StatusCode == http.StatusForbidden {
			return false
		}
		return retryableStatusCodes[upErr.StatusCode]
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
