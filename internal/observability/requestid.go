package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

// RequestIDHeader is the header the gateway reads an inbound correlation ID
// from and echoes back on every response, including ones that fan out into
// several recursive reference fetches.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds a caller-supplied request ID so a pathological
// header value can't bloat every downstream log line.
const maxRequestIDLen = 128

type requestIDKey struct{}

// GenerateRequestID returns a fresh opaque, 32-hex-character correlation ID.
// A crypto/rand failure is vanishingly unlikely on any real OS; the fallback
// just avoids ever returning an empty ID, which WithRequestID treats as
// "no ID set".
func GenerateRequestID() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "req-fallback"
	}
	return hex.EncodeToString(raw)
}

// ContextWithRequestID returns a context carrying id, retrievable via
// RequestIDFromContext.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID carried on ctx, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware ensures every inbound request carries a correlation ID
// in its headers (so it is forwarded upstream with them), its context (for
// logging, via Logger.WithRequestID) and its response (so a caller can match
// client-side logs to gateway-side ones): it reuses a valid caller-supplied
// X-Request-ID, or mints one, before calling next.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := sanitizeRequestID(r.Header.Get(RequestIDHeader))
		if !ok {
			id = GenerateRequestID()
		}

		r.Header.Set(RequestIDHeader, id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), id)))
	})
}

// GetOrCreateRequestID returns ctx's existing request ID, or mints and
// attaches a new one if ctx doesn't carry one — for call paths (background
// jobs, internal retries) that don't go through RequestIDMiddleware.
func GetOrCreateRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateRequestID()
	return ContextWithRequestID(ctx, id), id
}

// sanitizeRequestID accepts a caller-supplied request ID only if it's
// reasonably short and made of characters safe to embed in a log line or
// response header as-is (no CR/LF header-splitting risk, no control chars).
func sanitizeRequestID(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxRequestIDLen {
		return "", false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return "", false
		}
	}
	return value, true
}
