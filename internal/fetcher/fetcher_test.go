package fetcher

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/LaVita-GmbH/gateway/internal/registry"
	"github.com/LaVita-GmbH/gateway/internal/resilience"
	"github.com/LaVita-GmbH/gateway/pkg/gwerrors"
)

func newTestFetcher(baseURL string) *Fetcher {
	reg := registry.New(map[string]string{"orders": baseURL})
	return New(reg, resilience.NewSemaphore(8), otel.Tracer("test"))
}

func TestFetch_JSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/items/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "7", "total": 42}`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	resp, err := f.Fetch(t.Context(), http.MethodGet, "orders", "items/7", nil, nil, nil, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.IsJSON)
	assert.Equal(t, 200, resp.StatusCode)

	m, ok := resp.JSON.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "7", m["id"])
}

func TestFetch_RawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50})
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	resp, err := f.Fetch(t.Context(), http.MethodGet, "orders", "thumbnail", nil, nil, nil, time.Second)
	require.NoError(t, err)
	assert.False(t, resp.IsJSON)
	assert.Equal(t, []byte{0x89, 0x50}, resp.Raw)
}

func TestFetch_DocsPathSkipsServicePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	_, err := f.Fetch(t.Context(), http.MethodGet, "orders", "docs", nil, nil, nil, time.Second)
	require.NoError(t, err)
}

func TestFetch_UnknownService(t *testing.T) {
	f := newTestFetcher("http://unused")
	_, err := f.Fetch(t.Context(), http.MethodGet, "nope", "items", nil, nil, nil, time.Second)
	var gwErr *gwerrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gwerrors.KindUnknownService, gwErr.Kind)
}

func TestFetch_TimeoutMapsToTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	_, err := f.Fetch(t.Context(), http.MethodGet, "orders", "items", nil, nil, nil, 5*time.Millisecond)
	var gwErr *gwerrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gwerrors.KindTimeout, gwErr.Kind)
}

func TestFetch_ContentLengthHeaderStripped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Length"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	headers := http.Header{"Content-Length": []string{"123"}}
	_, err := f.Fetch(t.Context(), http.MethodGet, "orders", "items", headers, url.Values{}, nil, time.Second)
	require.NoError(t, err)
}
