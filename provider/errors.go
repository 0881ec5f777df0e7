package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v67/github"

	"github.com/deeplooplabs/repofetch"
)

// quotaMarker identifies a 403 that is a quota problem rather than a permission one
const quotaMarker = "rate limit"

// translateError turns a go-github error into a *repofetch.UpstreamError.
// parent is the caller's context: when it is done the error is returned as is,
// since the caller gave up and the upstream is not to blame.
func translateError(parent context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		upErr := repofetch.NewRateLimitedError(rateErr.Message, rateErr.Rate.Reset.Time, err)
		if rateErr.Response != nil {
			upErr.StatusCode = rateErr.Response.StatusCode
		}
		return upErr
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		upErr := repofetch.NewRateLimitedError(abuseErr.Message, time.Time{}, err)
		if abuseErr.RetryAfter != nil {
			upErr.RetryAfter = *abuseErr.RetryAfter
		}
		if abuseErr.Response != nil {
			upErr.StatusCode = abuseErr.Response.StatusCode
		}
		return upErr
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		if status == http.StatusForbidden && strings.Contains(strings.ToLower(respErr.Message), quotaMarker) {
			return repofetch.NewRateLimitedError(respErr.Message, resetFromHeader(respErr.Response.Header), err)
		}
		return repofetch.NewStatusError(status, respErr.Message, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return repofetch.NewNetworkError(op+": request timed out", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return repofetch.NewDecodeError(op+": malformed response", err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return repofetch.NewNetworkError(op, err)
	}

	return &repofetch.UpstreamError{
		Kind:    repofetch.KindClientError,
		Message: op,
		Err:     err,
	}
}

// resetFromHeader reads X-RateLimit-Reset (unix seconds), or returns zero
func resetFromHeader(h http.Header) time.Time {
	v := h.Get("X-RateLimit-Reset")
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
