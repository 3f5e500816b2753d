// Package fetcher issues HTTP calls to backend services registered in
// internal/registry, discriminating JSON bodies from raw bytes and recording
// an OpenTelemetry span per call.
package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"github.com/LaVita-GmbH/gateway/internal/httputil"
	"github.com/LaVita-GmbH/gateway/internal/metrics"
	"github.com/LaVita-GmbH/gateway/internal/observability"
	"github.com/LaVita-GmbH/gateway/internal/registry"
	"github.com/LaVita-GmbH/gateway/internal/resilience"
	"github.com/LaVita-GmbH/gateway/pkg/gwerrors"
)

// docPaths are served directly under the service's base URL rather than
// under <base>/<service>/...
var docPaths = map[string]bool{
	"docs":  true,
	"redoc": true,
}

// Response is the result of a single upstream call.
type Response struct {
	StatusCode int
	Header     http.Header
	JSON       any    // set when the Content-Type is application/json
	IsJSON     bool
	Raw        []byte // set when the body is not JSON
}

// NoCache reports whether the response asked the caller not to cache it.
func (r *Response) NoCache() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Cache-Control")), "no-cache")
}

// Fetcher issues requests to backend services.
type Fetcher struct {
	Registry *registry.Registry
	Client   *http.Client
	// Semaphore bounds the number of concurrent outbound fetches.
	Semaphore *resilience.Semaphore
	// RateLimiter optionally bounds the steady-state rate of outbound
	// fetches, independent of Semaphore's concurrency cap. Nil disables it.
	RateLimiter *resilience.FetchLimiter
	Tracer      trace.Tracer
	MaxBody     int64
}

// New builds a Fetcher with sensible defaults for the HTTP client.
func New(reg *registry.Registry, sem *resilience.Semaphore, tracer trace.Tracer) *Fetcher {
	return &Fetcher{
		Registry:  reg,
		Client:    &http.Client{},
		Semaphore: sem,
		Tracer:    tracer,
		MaxBody:   httputil.DefaultMaxResponseBodyBytes,
	}
}

// Fetch issues a single HTTP call to service/path, bounded by timeout (a
// timeout <= 0 means no explicit deadline beyond ctx's own).
func (f *Fetcher) Fetch(ctx context.Context, method, service, path string, headers http.Header, params url.Values, body []byte, timeout time.Duration) (*Response, error) {
	baseURL, ok := f.Registry.BaseURL(service)
	if !ok {
		return nil, gwerrors.UnknownService(service)
	}

	if f.Semaphore != nil {
		if err := f.Semaphore.Acquire(ctx); err != nil {
			return nil, gwerrors.Transport(service, err)
		}
		defer f.Semaphore.Release()
	}

	if err := f.RateLimiter.Wait(ctx); err != nil {
		return nil, gwerrors.Transport(service, err)
	}

	target := buildURL(baseURL, service, path, params)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := observability.StartFetchSpan(ctx, f.Tracer, "gateway.fetch", observability.FetchSpanAttributes{
		Service: service,
		Method:  method,
		Path:    path,
	})
	defer span.End()

	var bodyReader *bytes.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	var req *http.Request
	var err error
	if bodyReader != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, bodyReader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, gwerrors.Transport(service, err)
	}

	for k, values := range headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := f.Client.Do(req)
	metrics.FetchLatency.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, gwerrors.Timeout(service, err)
		}
		return nil, gwerrors.Transport(service, err)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadLimitedBody(resp.Body, f.MaxBody)
	if err != nil {
		observability.RecordError(span, err)
		return nil, gwerrors.Transport(service, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	out.Header.Del("Content-Length")

	if isJSONContentType(resp.Header.Get("Content-Type")) {
		var decoded any
		if len(raw) > 0 {
			if decodeErr := json.Unmarshal(raw, &decoded); decodeErr != nil {
				observability.RecordError(span, decodeErr)
				return nil, gwerrors.Transport(service, decodeErr)
			}
		}
		out.JSON = decoded
		out.IsJSON = true
	} else {
		out.Raw = raw
	}

	observability.RecordFetchResponse(span, resp.StatusCode, len(raw))
	return out, nil
}

func buildURL(baseURL, service, path string, params url.Values) string {
	base := strings.TrimRight(baseURL, "/")
	path = strings.TrimLeft(path, "/")

	var target string
	if docPaths[path] {
		target = base + "/" + path
	} else {
		target = base + "/" + service + "/" + path
	}

	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return target
}

func isJSONContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
