package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// Classify maps an HTTP response to the typed sync error taxonomy. The body
// is expected to be an error envelope; classification still succeeds when it
// is not, using only the status code. retryAfter is the raw Retry-After
// header value, honored for 429 and 503.
func Classify(status int, body []byte, retryAfter string) *domain.SyncError {
	syncErr := &domain.SyncError{Status: status}

	if env, err := Decode(body); err == nil && env.Error != nil {
		syncErr.Code = env.Error.Code
		syncErr.Message = env.Error.Message
		syncErr.Details = env.Error.Details
	}
	if syncErr.Message == "" {
		syncErr.Message = http.StatusText(status)
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		syncErr.Kind = domain.ErrorKindValidation
	case http.StatusUnauthorized:
		syncErr.Kind = domain.ErrorKindUnauthorized
	case http.StatusForbidden:
		syncErr.Kind = domain.ErrorKindPermissionDenied
	case http.StatusNotFound:
		syncErr.Kind = domain.ErrorKindNotFound
	case http.StatusConflict:
		syncErr.Kind = domain.ErrorKindConflict
		syncErr.ServerVersion = serverVersionFromDetails(syncErr.Details)
	case http.StatusPreconditionFailed:
		syncErr.Kind = domain.ErrorKindPreconditionFailed
	case http.StatusUnsupportedMediaType:
		syncErr.Kind = domain.ErrorKindUnsupportedMedia
	case http.StatusUpgradeRequired:
		syncErr.Kind = domain.ErrorKindClientVersionTooOld
	case http.StatusTooManyRequests:
		syncErr.Kind = domain.ErrorKindRateLimited
		syncErr.RetryAfter = parseRetryAfter(retryAfter)
	case http.StatusInternalServerError, http.StatusBadGateway:
		syncErr.Kind = domain.ErrorKindServerError
	case http.StatusServiceUnavailable:
		syncErr.Kind = domain.ErrorKindServiceUnavailable
		syncErr.RetryAfter = parseRetryAfter(retryAfter)
	case http.StatusGatewayTimeout:
		syncErr.Kind = domain.ErrorKindGatewayTimeout
	default:
		syncErr.Kind = domain.ErrorKindUnknown
	}

	return syncErr
}

// ClassifyTransportError maps a transport-level failure (no HTTP response)
// to the taxonomy: timeouts become gateway_timeout, everything else is a
// transient network error.
func ClassifyTransportError(err error) *domain.SyncError {
	kind := domain.ErrorKindNetwork
	if isTimeout(err) {
		kind = domain.ErrorKindGatewayTimeout
	}
	return &domain.SyncError{Kind: kind, Message: err.Error()}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

func serverVersionFromDetails(details map[string]any) *int64 {
	if details == nil {
		return nil
	}
	raw, ok := details["server_version"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		version := int64(v)
		return &version
	case json.Number:
		if version, err := v.Int64(); err == nil {
			return &version
		}
	}
	return nil
}
