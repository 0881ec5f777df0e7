package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/deeplooplabs/repofetch"
)

// Error is the JSON error returned by every API route
type Error struct {
	Code              int        `json:"-"`
	Message           string     `json:"message"`
	Type              string     `json:"type"`
	UpstreamStatus    int        `json:"upstream_status,omitempty"`
	ResetAt           *time.Time `json:"reset_at,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	Err               error      `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a malformed request
func NewValidationError(msg string, err error) *Error {
	return &Error{Code: http.StatusBadRequest, Message: msg, Type: "invalid_request_error", Err: err}
}

// NewNotFoundError reports an unknown route or resource
func NewNotFoundError(msg string) *Error {
	return &Error{Code: http.StatusNotFound, Message: msg, Type: "not_found_error"}
}

// NewRateLimitError reports the shared upstream quota as exhausted.
// A zero resetAt means the reset time is unknown.
func NewRateLimitError(msg string, resetAt time.Time, now time.Time) *Error {
	e := &Error{Code: http.StatusTooManyRequests, Message: msg, Type: "rate_limit_error"}
	if !resetAt.IsZero() {
		e.ResetAt = &resetAt
		e.RetryAfterSeconds = ceilSeconds(resetAt.Sub(now))
	}
	return e
}

// toError maps an explorer error onto the HTTP error it is reported as
func toError(err error, now time.Time) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, repofetch.ErrInvalidRepository) {
		return NewValidationError(err.Error(), err)
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: 499, Message: "request canceled", Type: "canceled", Err: err}
	}

	upErr, ok := repofetch.AsUpstreamError(err)
	if !ok {
		return &Error{Code: http.StatusInternalServerError, Message: err.Error(), Type: "internal_error", Err: err}
	}

	switch upErr.Kind {
	case repofetch.KindRateLimited:
		e := NewRateLimitError(upErr.Message, upErr.ResetAt, now)
		if e.ResetAt == nil && upErr.RetryAfter > 0 {
			e.RetryAfterSeconds = ceilSeconds(upErr.RetryAfter)
		}
		e.UpstreamStatus = upErr.StatusCode
		e.Err = err
		return e
	case repofetch.KindCircuitOpen:
		return &Error{
			Code:              http.StatusServiceUnavailable,
			Message:           "upstream temporarily unavailable",
			Type:              "service_degraded",
			RetryAfterSeconds: ceilSeconds(upErr.RetryAfter),
			Err:               err,
		}
	case repofetch.KindNotFound:
		return &Error{
			Code:           http.StatusNotFound,
			Message:        upErr.Message,
			Type:           "not_found_error",
			UpstreamStatus: upErr.StatusCode,
			Err:            err,
		}
	default:
		return &Error{
			Code:           http.StatusBadGateway,
			Message:        err.Error(),
			Type:           string(upErr.Kind),
			UpstreamStatus: upErr.StatusCode,
			Err:            err,
		}
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, e *Error) {
	if e.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSeconds))
	}
	writeJSON(w, e.Code, map[string]any{"error": e})
}
