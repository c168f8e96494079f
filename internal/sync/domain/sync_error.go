package domain

import (
	"fmt"
	"time"
)

// ErrorKind classifies a dispatch failure into the sync error taxonomy.
type ErrorKind string

const (
	ErrorKindValidation          ErrorKind = "validation"
	ErrorKindUnauthorized        ErrorKind = "unauthorized"
	ErrorKindPermissionDenied    ErrorKind = "permission_denied"
	ErrorKindNotFound            ErrorKind = "not_found"
	ErrorKindConflict            ErrorKind = "conflict"
	ErrorKindPreconditionFailed  ErrorKind = "precondition_failed"
	ErrorKindUnsupportedMedia    ErrorKind = "unsupported_media"
	ErrorKindClientVersionTooOld ErrorKind = "client_version_too_old"
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindServerError         ErrorKind = "server_error"
	ErrorKindServiceUnavailable  ErrorKind = "service_unavailable"
	ErrorKindGatewayTimeout      ErrorKind = "gateway_timeout"
	ErrorKindNetwork             ErrorKind = "network"
	ErrorKindRouting             ErrorKind = "routing"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// SyncError is the typed failure the error mapper produces from an HTTP
// response or transport error. The engine transitions on Kind; it never
// inspects raw status codes.
type SyncError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Details map[string]any
	// RetryAfter carries the server's Retry-After hint for rate_limited and
	// service_unavailable responses.
	RetryAfter *time.Duration
	// ServerVersion carries the authoritative entity version on conflict.
	ServerVersion *int64
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("sync error %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("sync error %s: %s", e.Kind, e.Message)
}

// Retryable reports whether plain backoff retry is allowed for this kind.
// Conflict is deliberately false: it is retryable only through the
// reconciler, never through blind re-dispatch.
func (e *SyncError) Retryable() bool {
	switch e.Kind {
	case ErrorKindRateLimited,
		ErrorKindServerError,
		ErrorKindServiceUnavailable,
		ErrorKindGatewayTimeout,
		ErrorKindNetwork,
		ErrorKindUnknown:
		return true
	default:
		return false
	}
}
