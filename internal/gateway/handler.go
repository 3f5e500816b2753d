// Package gateway wires together the registry, fetcher, and reference
// engine behind a single HTTP handler.
package gateway

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"github.com/LaVita-GmbH/gateway/internal/engine"
	"github.com/LaVita-GmbH/gateway/internal/fetcher"
	"github.com/LaVita-GmbH/gateway/internal/httputil"
	"github.com/LaVita-GmbH/gateway/internal/metrics"
	"github.com/LaVita-GmbH/gateway/internal/observability"
	"github.com/LaVita-GmbH/gateway/internal/openapidoc"
	"github.com/LaVita-GmbH/gateway/internal/registry"
	"github.com/LaVita-GmbH/gateway/pkg/gwerrors"
)

// Handler is the HTTP-facing entry point of the gateway.
type Handler struct {
	Registry *registry.Registry
	Fetcher  *fetcher.Fetcher
	Engine   *engine.Engine
	Logger   *observability.Logger
	Tracer   trace.Tracer
}

// Routes registers the gateway's routes on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Health)
	mux.HandleFunc("GET /openapi.json", h.OpenAPI)
	mux.HandleFunc("GET /metrics", h.metricsHandler())
	mux.HandleFunc("/{service}/{path...}", h.Proxy)
}

// Health reports the registered service names.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": h.Registry.Names()})
}

// OpenAPI aggregates every backend's OpenAPI document into one.
func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, warnings, err := openapidoc.Aggregate(r.Context(), h.Fetcher, h.Registry)
	for _, warn := range warnings {
		if h.Logger != nil {
			h.Logger.Warn("openapi aggregation collision", "id", warn.ID, "service", warn.Service, "path", warn.Path, "detail", warn.Detail)
		}
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Proxy is the catch-all handler: it forwards the request to the named
// backend service and, for JSON responses, resolves embedded references.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	service := r.PathValue("service")
	path := r.PathValue("path")

	body, err := readBody(r)
	if err == httputil.ErrResponseBodyTooLarge {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	if h.Logger != nil {
		h.Logger.WithRequestID(r.Context()).Debug("proxying request",
			"service", service, "method", r.Method, "path", path,
			"headers", h.Logger.Headers(r.Header))
	}

	resp, err := h.Fetcher.Fetch(r.Context(), r.Method, service, path, r.Header, r.URL.Query(), body, 0)
	if err != nil {
		h.recordFailure(service, r.Method, err)
		writeErr(w, err)
		return
	}

	if resp.IsJSON && path != "openapi.json" {
		sess := h.Engine.NewSession(r.Header)
		sess.Walk(r.Context(), resp.JSON, nil, 0)
	}

	metrics.ProxyTotalRequests.WithLabelValues(service, r.Method, statusBucket(resp.StatusCode)).Inc()
	metrics.RequestTotalLatency.WithLabelValues(service, r.Method).Observe(time.Since(start).Seconds())

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Del("Content-Length")

	if resp.IsJSON {
		writeJSON(w, resp.StatusCode, resp.JSON)
		return
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Raw)
}

func (h *Handler) recordFailure(service, method string, err error) {
	kind := "unknown"
	if gwErr, ok := err.(*gwerrors.GatewayError); ok {
		kind = string(gwErr.Kind)
	}
	metrics.ProxyFailedRequests.WithLabelValues(service, method, kind).Inc()
}

func (h *Handler) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return httputil.ReadLimitedBody(r.Body, httputil.DefaultMaxResponseBodyBytes)
}

func writeErr(w http.ResponseWriter, err error) {
	if gwErr, ok := err.(*gwerrors.GatewayError); ok {
		writeJSON(w, gwErr.HTTPStatusCode(), map[string]any{"error": string(gwErr.Kind)})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{"error": "upstream_error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
