// Package engine implements the reference-resolution traversal: it walks an
// arbitrary JSON tree, finds "$rel" reference markers, and resolves each one
// by fetching and merging data from another backend service.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/LaVita-GmbH/gateway/internal/cache"
	"github.com/LaVita-GmbH/gateway/internal/cachekey"
	"github.com/LaVita-GmbH/gateway/internal/config"
	"github.com/LaVita-GmbH/gateway/internal/fetcher"
	"github.com/LaVita-GmbH/gateway/internal/metrics"
	"github.com/LaVita-GmbH/gateway/internal/observability"
	"github.com/LaVita-GmbH/gateway/internal/placeholder"
	"github.com/LaVita-GmbH/gateway/pkg/gwerrors"
)

const parentKey = "_parent"

// Engine holds everything a traversal needs that is shared across requests:
// the upstream fetcher and the optional shared cache.
type Engine struct {
	Fetcher      *fetcher.Fetcher
	Cache        cache.Cache // nil disables the shared cache tier
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	MaxLevel     int // 0 means unbounded
	Logger       *observability.Logger

	// ServiceTimeouts optionally overrides FetchTimeout for specific
	// services, loaded from config.LoadServiceOverrides. Nil means every
	// service uses FetchTimeout.
	ServiceTimeouts map[string]time.Duration
}

// timeoutFor returns the fetch timeout to use for service.
func (e *Engine) timeoutFor(service string) time.Duration {
	return config.TimeoutFor(e.ServiceTimeouts, service, e.FetchTimeout)
}

// Session is the per-request state of one traversal. The tree itself is only
// ever read and written by the goroutine that called Walk; the concurrent
// part is the upstream fetching, which works on values extracted from the
// tree beforehand. That split is what lets sibling references fan out without
// any locking around the JSON maps.
type Session struct {
	engine *Engine
	header http.Header // inbound request headers, forwarded to upstream calls

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]memoEntry

	queue    []*resolution
	expanded map[string]bool  // cache keys whose fetched object was already walked
	parents  []map[string]any // nodes carrying a transient _parent pointer
}

// memoEntry is a completed fetch recorded for the rest of the request, so a
// reference re-discovered later (for example inside an object another
// resolution just fetched) never hits upstream a second time.
type memoEntry struct {
	val any
	err error
}

// resolution is one discovered reference marker. Its fetch runs in its own
// goroutine while the traversal keeps descending; the result is merged back
// on the traversal goroutine once the fetch completes. id is the marker's id
// after placeholder expansion, kept so the merge compares against what was
// actually fetched rather than the raw template.
type resolution struct {
	node map[string]any
	key  string
	id   string
	done chan struct{}
	val  any
	err  error
}

// NewSession starts a new per-request traversal session.
func (e *Engine) NewSession(header http.Header) *Session {
	return &Session{
		engine:   e,
		header:   header,
		memo:     make(map[string]memoEntry),
		expanded: make(map[string]bool),
	}
}

// Walk descends node in place, resolving every reference marker it finds.
// parent is the enclosing object (nil at the root); it is installed as a
// transient "_parent" field on every object node before recursing, so
// placeholder expressions can reach it via "{_parent.id}".
//
// Walk returns only after every reference in node's transitive closure —
// including references inside objects fetched along the way — has either been
// merged or marked with $error, and after every _parent pointer has been
// stripped again.
func (s *Session) Walk(ctx context.Context, node any, parent map[string]any, depth int) {
	s.discover(ctx, node, parent, depth)

	for len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		<-r.done
		s.complete(ctx, r)
	}

	for _, n := range s.parents {
		delete(n, parentKey)
	}
	s.parents = s.parents[:0]
}

// discover is the synchronous walk: it installs _parent pointers, spawns a
// fetch per reference marker, and keeps descending without waiting on any of
// them.
func (s *Session) discover(ctx context.Context, node any, parent map[string]any, depth int) {
	switch n := node.(type) {
	case []any:
		// A list is one ancestor level: elements reach the enclosing
		// object via two _parent hops ("{_parent._parent.tenant}" from an
		// element of doc.items). Lists can't carry a _parent key, so the
		// hop is a transient wrapper that is never attached to the tree.
		if parent != nil {
			parent = map[string]any{parentKey: parent}
		}
		for _, child := range n {
			s.discover(ctx, child, parent, depth+1)
		}
	case map[string]any:
		s.discoverObject(ctx, n, parent, depth)
	}
}

func (s *Session) discoverObject(ctx context.Context, node map[string]any, parent map[string]any, depth int) {
	if _, resolved := node["$rel_at"]; resolved {
		return
	}
	if s.engine.MaxLevel > 0 && depth > s.engine.MaxLevel {
		return
	}

	if parent != nil {
		node[parentKey] = parent
		s.parents = append(s.parents, node)
	}

	// Resolution merges new keys into the node; snapshot the ones present
	// now so the iteration set is stable.
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}

	for _, key := range keys {
		if key == parentKey {
			continue
		}
		if key == "$rel" {
			s.spawn(ctx, node)
			continue
		}
		s.discover(ctx, node[key], node, depth+1)
	}
}

// spawn expands the placeholders of one reference marker and starts its
// fetch. Placeholder expansion happens here, on the traversal goroutine,
// because it evaluates JSONPath against the live tree; the goroutine it
// starts works only on the extracted relation, id, and cache key.
func (s *Session) spawn(ctx context.Context, node map[string]any) {
	relRaw, _ := node["$rel"].(string)
	relation := strings.Split(relRaw, "/")
	for i, seg := range relation {
		relation[i] = fmt.Sprint(placeholder.Resolve(seg, node))
	}

	// The id may carry placeholders too ("{_parent._parent.tenant}/99");
	// expand it against the same context as the relation segments.
	id := idString(placeholder.Resolve(idString(node["id"]), node))

	var params map[string]any
	if raw, ok := node["$rel_params"].(map[string]any); ok {
		params = placeholder.ResolveParams(raw, node)
	}

	key := cachekey.Key(relation, id, params)
	node["$rel"] = strings.Join(relation, "/")

	r := &resolution{node: node, key: key, id: id, done: make(chan struct{})}
	s.queue = append(s.queue, r)

	go func() {
		defer close(r.done)
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("resolution panicked: %v", p)
			}
		}()
		r.val, r.err = s.fetchOnce(ctx, relation, id, key)
	}()
}

// fetchOnce memoizes fetchObject per cache key for the lifetime of the
// session: concurrent same-key fetches share one in-flight call through the
// singleflight group, and any later caller gets the recorded result without
// touching upstream again.
func (s *Session) fetchOnce(ctx context.Context, relation []string, id, key string) (any, error) {
	s.mu.Lock()
	if m, ok := s.memo[key]; ok {
		s.mu.Unlock()
		return m.val, m.err
	}
	s.mu.Unlock()

	val, err, _ := s.group.Do(key, func() (any, error) {
		val, err := s.fetchObject(ctx, relation, id, key)
		s.mu.Lock()
		s.memo[key] = memoEntry{val: val, err: err}
		s.mu.Unlock()
		return val, err
	})
	return val, err
}

// complete merges one finished resolution into its node — or records the
// failure on that node alone, so one bad reference never affects its
// siblings — and then discovers references inside the fetched object.
func (s *Session) complete(ctx context.Context, r *resolution) {
	if r.err != nil {
		writeResolutionError(r.node, r.err)
		return
	}

	// The memo shares one result across every node with the same cache key;
	// clone it so each node merges its own copy.
	fetchedObj, err := cloneObject(r.val)
	if err != nil {
		writeResolutionError(r.node, err)
		return
	}

	if r.id != "" {
		if fetchedID, ok := fetchedObj["id"]; ok && !equalIDs(r.id, fetchedID) {
			writeResolutionError(r.node, gwerrors.UpdateMismatch(r.id, fetchedID))
			return
		}
	}

	for k, v := range fetchedObj {
		if k == "$rel" {
			continue
		}
		r.node[k] = v
	}

	// References inside a fetched object are expanded once per cache key.
	// Without this, an object referring to its own key would re-enter the
	// queue from the memo forever.
	if !s.expanded[r.key] {
		s.expanded[r.key] = true
		s.discover(ctx, fetchedObj, r.node, 0)
	}
}

func writeResolutionError(node map[string]any, err error) {
	gwErr, ok := err.(*gwerrors.GatewayError)
	if !ok {
		node["$error"] = map[string]any{"error": err.Error()}
		return
	}
	switch gwErr.Kind {
	case gwerrors.KindUpstreamStatus:
		node["$error"] = map[string]any{"status": gwErr.StatusCode, "data": gwErr.Data}
	case gwerrors.KindTimeout:
		node["$error"] = map[string]any{"status": http.StatusGatewayTimeout}
	case gwerrors.KindUpdateMismatch:
		data, _ := gwErr.Data.(map[string]any)
		node["$error"] = map[string]any{"error": "update_mismatch", "data": data, "values": data}
	default:
		node["$error"] = map[string]any{"error": string(gwErr.Kind), "detail": gwErr.Message}
	}
}

// cloneObject deep-copies a fetched result via a JSON round trip so each
// node sharing a memoized result gets its own mutable copy.
func cloneObject(v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return map[string]any{"value": v}, nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var clone map[string]any
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// fetchObject performs the cache lookup / upstream fetch for one reference
// and returns the raw fetched object (not yet merged into any node).
//
// A reference with no "id" is not supported, whether it carries "$rel_params"
// (lookup mode) or nothing at all: lookup-mode semantics are undefined, so
// the node gets a not_implemented error instead of a guessed answer. The
// $rel_is_lookup flag is likewise accepted but inert until lookup mode
// exists.
func (s *Session) fetchObject(ctx context.Context, relation []string, id, key string) (any, error) {
	if len(relation) < 2 {
		return nil, gwerrors.NotImplemented("relation path has no service segment")
	}
	if id == "" {
		return nil, gwerrors.NotImplemented("reference has no id (lookup mode is not implemented)")
	}
	service := relation[1]
	pathSegments := relation[2:]

	var fetched any
	var noCache bool

	if s.engine.Cache != nil {
		if raw, cacheErr := s.engine.Cache.Get(ctx, key); cacheErr != nil {
			s.logCacheError("get", cacheErr)
			metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		} else if raw != nil {
			if decodeErr := json.Unmarshal(raw, &fetched); decodeErr == nil {
				metrics.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
			} else {
				fetched = nil
			}
		} else {
			metrics.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		}
	}

	if fetched == nil {
		resp, err := s.fetch(ctx, service, pathSegments, id)
		if err != nil {
			metrics.ResolutionsTotal.WithLabelValues(service, "error").Inc()
			return nil, err
		}
		if resp.StatusCode >= 400 {
			metrics.ResolutionsTotal.WithLabelValues(service, "upstream_error").Inc()
			return nil, gwerrors.UpstreamStatus(service, resp.StatusCode, resp.JSON)
		}

		fetched = resp.JSON
		noCache = resp.NoCache()

		metrics.ResolutionsTotal.WithLabelValues(service, "ok").Inc()
	}

	fetchedObj, ok := fetched.(map[string]any)
	if !ok {
		fetchedObj = map[string]any{"value": fetched}
	}

	if s.engine.Cache != nil && !noCache {
		if raw, err := json.Marshal(fetchedObj); err == nil {
			if err := s.engine.Cache.Set(ctx, key, raw, s.engine.CacheTTL); err != nil {
				s.logCacheError("set", err)
				metrics.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
			} else {
				metrics.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
			}
		}
	}

	return fetchedObj, nil
}

// fetch issues the upstream GET for an id-bearing reference:
// GET <service>/<path segments>/<id>, with no query parameters.
func (s *Session) fetch(ctx context.Context, service string, pathSegments []string, id string) (*fetcher.Response, error) {
	timeout := s.engine.timeoutFor(service)

	path := strings.Join(pathSegments, "/")
	if path != "" {
		path += "/"
	}
	path += id
	return s.engine.Fetcher.Fetch(ctx, http.MethodGet, service, path, s.header, nil, nil, timeout)
}

func (s *Session) logCacheError(op string, err error) {
	if s.engine.Logger != nil {
		s.engine.Logger.Warn("shared cache operation failed", "op", op, "error", err)
	}
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func equalIDs(a, b any) bool {
	return idString(a) == idString(b)
}
