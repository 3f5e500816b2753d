package engine

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/LaVita-GmbH/gateway/internal/cache"
	"github.com/LaVita-GmbH/gateway/internal/fetcher"
	"github.com/LaVita-GmbH/gateway/internal/registry"
	"github.com/LaVita-GmbH/gateway/internal/resilience"
)

func newTestEngine(t *testing.T, baseURL string) *Engine {
	t.Helper()
	reg := registry.New(map[string]string{"orders": baseURL, "users": baseURL})
	f := fetcher.New(reg, resilience.NewSemaphore(16), otel.Tracer("test"))
	return &Engine{
		Fetcher:      f,
		FetchTimeout: time.Second,
	}
}

func TestWalk_ResolvesSimpleReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/items/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "7", "total": 42}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{
		"$rel": "/orders/items",
		"id":   "7",
	}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, "/orders/items", doc["$rel"])
	assert.Equal(t, float64(42), doc["total"])
	assert.NotContains(t, doc, "_parent")
}

func TestWalk_UpstreamErrorWritesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "not found"}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{"$rel": "/orders/items", "id": "missing"}
	sess.Walk(t.Context(), doc, nil, 0)

	errField, ok := doc["$error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 404, errField["status"])
}

func TestWalk_SkipsAlreadyResolvedNode(t *testing.T) {
	called := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{
		"$rel":    "/orders/items",
		"id":      "7",
		"$rel_at": time.Now().Unix(),
	}
	sess.Walk(t.Context(), doc, nil, 0)
	assert.Equal(t, int32(0), called)
}

func TestWalk_UpdateMismatchFailsNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "other"}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{"$rel": "/orders/items", "id": "mine"}
	sess.Walk(t.Context(), doc, nil, 0)

	errField, ok := doc["$error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "update_mismatch", errField["error"])
}

func TestWalk_NestedListOfReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "alice"}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{
		"items": []any{
			map[string]any{"$rel": "/users/profile", "id": "1"},
			map[string]any{"$rel": "/users/profile", "id": "2"},
		},
	}
	sess.Walk(t.Context(), doc, nil, 0)

	items := doc["items"].([]any)
	for _, item := range items {
		m := item.(map[string]any)
		assert.Equal(t, "alice", m["name"])
	}
}

func TestWalk_SingleflightDedupesConcurrentSameKeyFetches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "7", "v": 1}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{
		"a": map[string]any{"$rel": "/orders/items", "id": "7"},
		"b": map[string]any{"$rel": "/orders/items", "id": "7"},
	}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	a := doc["a"].(map[string]any)
	b := doc["b"].(map[string]any)
	assert.Equal(t, float64(1), a["v"])
	assert.Equal(t, float64(1), b["v"])
}

// A reference with "$rel_params" but no "id" (lookup mode) is not
// implemented and must never reach the upstream fetcher.
func TestWalk_RelParamsWithoutIDIsNotImplemented(t *testing.T) {
	called := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{
		"$rel":        "/orders/items",
		"$rel_params": map[string]any{"status": "open"},
	}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, int32(0), called)
	errField, ok := doc["$error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_implemented", errField["error"])
}

// A reference with neither "id" nor "$rel_params" is equally unimplemented.
func TestWalk_NoIDAndNoParamsIsNotImplemented(t *testing.T) {
	called := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{"$rel": "/orders/items"}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, int32(0), called)
	errField, ok := doc["$error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_implemented", errField["error"])
}

// The $rel_is_lookup flag is accepted but inert: it must not change the
// outcome, which is still not_implemented because no "id" is present.
func TestWalk_RelIsLookupFlagDoesNotChangeNotImplementedOutcome(t *testing.T) {
	e := newTestEngine(t, "http://unused.invalid")
	sess := e.NewSession(nil)

	doc := map[string]any{
		"$rel":           "/orders/items",
		"$rel_params":    map[string]any{"status": "open"},
		"$rel_is_lookup": true,
	}
	sess.Walk(t.Context(), doc, nil, 0)

	errField, ok := doc["$error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_implemented", errField["error"])
}

func TestWalk_ParentPlaceholderResolvesAgainstAncestor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/items/t1/99", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sku": "widget"}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{
		"tenant": "t1",
		"items": []any{
			map[string]any{"$rel": "/orders/items", "id": "{_parent._parent.tenant}/99"},
		},
	}
	sess.Walk(t.Context(), doc, nil, 0)

	item := doc["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "widget", item["sku"])
	assert.NotContains(t, item, "_parent")
	assert.NotContains(t, doc, "_parent")
}

// Sibling references must be fetched concurrently: each upstream handler
// here blocks until both requests have arrived, so a traversal that awaited
// one resolution before starting the next would run into its fetch timeout.
func TestWalk_SiblingReferencesFanOut(t *testing.T) {
	var arrived atomic.Int32
	bothArrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if arrived.Add(1) == 2 {
			close(bothArrived)
		}
		select {
		case <-bothArrived:
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	e.FetchTimeout = 3 * time.Second
	sess := e.NewSession(nil)

	doc := map[string]any{
		"a": map[string]any{"$rel": "/orders/items", "id": "1"},
		"b": map[string]any{"$rel": "/orders/items", "id": "2"},
	}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, int32(2), arrived.Load())
	for _, key := range []string{"a", "b"} {
		node := doc[key].(map[string]any)
		assert.Equal(t, true, node["ok"], "node %q should have resolved", key)
	}
}

// A fetched object can itself contain references; they resolve before Walk
// returns.
func TestWalk_ResolvesReferencesInsideFetchedObjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/items/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "7", "buyer": {"$rel": "/users/profiles", "id": "42"}}`))
	})
	mux.HandleFunc("/users/profiles/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "42", "name": "Ada"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{"order": map[string]any{"$rel": "/orders/items", "id": "7"}}
	sess.Walk(t.Context(), doc, nil, 0)

	order := doc["order"].(map[string]any)
	buyer, ok := order["buyer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", buyer["name"])
	assert.NotContains(t, buyer, "_parent")
}

// An object that references its own cache key must not spin: the nested
// occurrence is served from the memo and expanded only once.
func TestWalk_SelfReferentialObjectTerminates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "7", "next": {"$rel": "/orders/items", "id": "7"}}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	sess := e.NewSession(nil)

	doc := map[string]any{"$rel": "/orders/items", "id": "7"}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, int32(1), hits.Load())
	next := doc["next"].(map[string]any)
	assert.Equal(t, "7", next["id"])
}

func TestWalk_SharedCacheHitSkipsUpstream(t *testing.T) {
	called := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	shared := cache.NewMemoryCache(cache.MemoryCacheConfig{SweepInterval: time.Hour})
	t.Cleanup(func() { _ = shared.Close() })
	require.NoError(t, shared.Set(t.Context(), "/users/profiles/42", []byte(`{"id": "42", "name": "Ada"}`), 0))

	e := newTestEngine(t, srv.URL)
	e.Cache = shared
	sess := e.NewSession(nil)

	doc := map[string]any{"$rel": "/users/profiles", "id": "42"}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, int32(0), called)
	assert.Equal(t, "Ada", doc["name"])
}

func TestWalk_NoCacheResponseIsNotWrittenToSharedCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write([]byte(`{"id": "7"}`))
	}))
	defer srv.Close()

	shared := cache.NewMemoryCache(cache.MemoryCacheConfig{SweepInterval: time.Hour})
	t.Cleanup(func() { _ = shared.Close() })

	e := newTestEngine(t, srv.URL)
	e.Cache = shared
	e.CacheTTL = time.Minute
	sess := e.NewSession(nil)

	doc := map[string]any{"$rel": "/orders/items", "id": "7"}
	sess.Walk(t.Context(), doc, nil, 0)

	assert.Equal(t, 0, shared.Len())
}

func TestWalk_MaxLevelStopsDescent(t *testing.T) {
	called := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	e.MaxLevel = 1
	sess := e.NewSession(nil)

	doc := map[string]any{
		"child": map[string]any{
			"grandchild": map[string]any{
				"$rel": "/orders/items",
				"id":   "7",
			},
		},
	}
	sess.Walk(t.Context(), doc, nil, 0)
	assert.Equal(t, int32(0), called)
}
