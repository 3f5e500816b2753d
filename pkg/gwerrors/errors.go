// Package gwerrors defines the gateway's error taxonomy. Failures of registry
// lookups, upstream fetches and reference merges are normalized to a
// GatewayError so that callers
// can map it to an HTTP status or a node's $error field without inspecting
// driver-specific error types.
package gwerrors

import (
	"fmt"
	"net/http"
)

// Kind identifies a class of gateway failure.
type Kind string

const (
	// KindUnknownService means the request named a service not present in
	// the registry.
	KindUnknownService Kind = "unknown_service"
	// KindTransport means a DNS/TCP/TLS-level failure reaching a backend.
	KindTransport Kind = "transport_error"
	// KindUpstreamStatus means the backend responded with a status >= 400.
	KindUpstreamStatus Kind = "upstream_status"
	// KindTimeout means a fetch exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindUpdateMismatch means a reference merge found conflicting ids.
	KindUpdateMismatch Kind = "update_mismatch"
	// KindCacheError means the shared cache backend failed.
	KindCacheError Kind = "cache_error"
	// KindNotImplemented means a reference shape isn't supported.
	KindNotImplemented Kind = "not_implemented"
)

// GatewayError is the standard error type returned by every gateway component.
type GatewayError struct {
	Kind       Kind
	Message    string
	Service    string
	StatusCode int // upstream status code, when Kind == KindUpstreamStatus
	Data       any // upstream response body for KindUpstreamStatus; the conflicting ids for KindUpdateMismatch
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] %s (service=%s)", e.Kind, e.Message, e.Service)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps a GatewayError to the status code the primary proxy
// path should return to the client.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Kind {
	case KindUnknownService:
		return http.StatusNotFound
	case KindTransport:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamStatus:
		if e.StatusCode > 0 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UnknownService builds a KindUnknownService error.
func UnknownService(service string) *GatewayError {
	return &GatewayError{
		Kind:    KindUnknownService,
		Message: fmt.Sprintf("no base URL registered for service %q", service),
		Service: service,
	}
}

// Transport builds a KindTransport error wrapping the underlying cause.
func Transport(service string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindTransport,
		Message: "upstream connection failed",
		Service: service,
		Err:     err,
	}
}

// UpstreamStatus builds a KindUpstreamStatus error carrying the upstream body.
func UpstreamStatus(service string, statusCode int, data any) *GatewayError {
	return &GatewayError{
		Kind:       KindUpstreamStatus,
		Message:    fmt.Sprintf("upstream returned status %d", statusCode),
		Service:    service,
		StatusCode: statusCode,
		Data:       data,
	}
}

// Timeout builds a KindTimeout error.
func Timeout(service string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindTimeout,
		Message: "upstream fetch timed out",
		Service: service,
		Err:     err,
	}
}

// UpdateMismatch builds a KindUpdateMismatch error for conflicting ids during merge.
func UpdateMismatch(existing, fetched any) *GatewayError {
	return &GatewayError{
		Kind:    KindUpdateMismatch,
		Message: "existing and fetched id values differ",
		Data:    map[string]any{"existing": existing, "fetched": fetched},
	}
}

// CacheError builds a KindCacheError error wrapping a backend failure.
func CacheError(op string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindCacheError,
		Message: fmt.Sprintf("cache %s failed", op),
		Err:     err,
	}
}

// NotImplemented builds a KindNotImplemented error for an unsupported reference shape.
func NotImplemented(reason string) *GatewayError {
	return &GatewayError{
		Kind:    KindNotImplemented,
		Message: reason,
	}
}
