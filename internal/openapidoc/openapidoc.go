// Package openapidoc aggregates the OpenAPI documents of every registered
// backend service into a single document served at /openapi.json.
package openapidoc

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/LaVita-GmbH/gateway/internal/fetcher"
	"github.com/LaVita-GmbH/gateway/internal/registry"
)

// Warning records a collision encountered while merging backend documents.
// ID is a UUID tag used to correlate the warning with the corresponding log
// line emitted by the caller.
type Warning struct {
	ID      string
	Service string
	Path    string
	Detail  string
}

type docResult struct {
	service string
	doc     map[string]any
	err     error
}

// Aggregate fetches openapi.json from every registered service concurrently,
// bounded by the fetcher's own fetch semaphore, and merges the documents:
// paths are union-merged (first-registered wins on collision), schema
// names are prefixed with "<service>__", $ref pointers into
// components/schemas are rewritten accordingly, and securitySchemes are
// merged by name (first-writer-wins).
func Aggregate(ctx context.Context, f *fetcher.Fetcher, reg *registry.Registry) (map[string]any, []Warning, error) {
	names := reg.Names()

	results := make([]docResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, service string) {
			defer wg.Done()
			resp, err := f.Fetch(ctx, http.MethodGet, service, "openapi.json", nil, nil, nil, 0)
			if err != nil {
				results[i] = docResult{service: service, err: err}
				return
			}
			doc, ok := resp.JSON.(map[string]any)
			if !ok {
				results[i] = docResult{service: service, err: fmt.Errorf("openapi document from %q was not a JSON object", service)}
				return
			}
			results[i] = docResult{service: service, doc: doc}
		}(i, name)
	}
	wg.Wait()

	merged := map[string]any{
		"openapi": "3.0.2",
		"info": map[string]any{
			"title":   "Aggregated Gateway API",
			"version": "aggregate",
		},
		"paths": map[string]any{},
		"components": map[string]any{
			"schemas":         map[string]any{},
			"securitySchemes": map[string]any{},
		},
	}
	paths := merged["paths"].(map[string]any)
	components := merged["components"].(map[string]any)
	schemas := components["schemas"].(map[string]any)
	securitySchemes := components["securitySchemes"].(map[string]any)

	var warnings []Warning
	var failed []string

	for _, res := range results {
		if res.err != nil {
			failed = append(failed, res.service)
			continue
		}
		rewritten := prefixSchemaRefs(res.doc, res.service)

		if docPaths, ok := rewritten["paths"].(map[string]any); ok {
			for _, p := range sortedKeys(docPaths) {
				if _, exists := paths[p]; exists {
					warnings = append(warnings, Warning{
						ID:      uuid.NewString(),
						Service: res.service,
						Path:    p,
						Detail:  "path already registered by another service; keeping first-registered value",
					})
					continue
				}
				paths[p] = docPaths[p]
			}
		}

		if docComponents, ok := rewritten["components"].(map[string]any); ok {
			if docSchemas, ok := docComponents["schemas"].(map[string]any); ok {
				for name, v := range docSchemas {
					schemas[name] = v
				}
			}
			if docSecurity, ok := docComponents["securitySchemes"].(map[string]any); ok {
				for name, v := range docSecurity {
					if existing, exists := securitySchemes[name]; exists {
						if !schemeEqual(existing, v) {
							warnings = append(warnings, Warning{
								ID:      uuid.NewString(),
								Service: res.service,
								Path:    name,
								Detail:  "securityScheme definition differs from an earlier one with the same name; keeping first-registered value",
							})
						}
						continue
					}
					securitySchemes[name] = v
				}
			}
		}
	}

	if len(failed) == len(names) && len(names) > 0 {
		return nil, warnings, fmt.Errorf("failed to fetch openapi documents from any service: %s", strings.Join(failed, ", "))
	}

	return merged, warnings, nil
}

// sortedKeys returns m's keys in sorted order, so merge order (and therefore
// which collisions produce a warning) is stable across runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func schemeEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if !aok || !bok {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	if len(am) != len(bm) {
		return false
	}
	for k, v := range am {
		if bv, ok := bm[k]; !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// prefixSchemaRefs returns a deep copy of doc with every
// components.schemas.<name> entry renamed to "<service>__<name>" and every
// "$ref": "#/components/schemas/<name>" string rewritten to match.
func prefixSchemaRefs(doc map[string]any, service string) map[string]any {
	names := map[string]bool{}
	if components, ok := doc["components"].(map[string]any); ok {
		if schemas, ok := components["schemas"].(map[string]any); ok {
			for name := range schemas {
				names[name] = true
			}
		}
	}

	rewritten := rewriteRefs(deepCopy(doc), service, names).(map[string]any)

	if components, ok := rewritten["components"].(map[string]any); ok {
		if schemas, ok := components["schemas"].(map[string]any); ok {
			prefixed := make(map[string]any, len(schemas))
			for name, v := range schemas {
				prefixed[service+"__"+name] = v
			}
			components["schemas"] = prefixed
		}
	}

	return rewritten
}

func rewriteRefs(node any, service string, names map[string]bool) any {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if k == "$ref" {
				if ref, ok := v.(string); ok {
					if name, ok := strings.CutPrefix(ref, "#/components/schemas/"); ok && names[name] {
						n[k] = "#/components/schemas/" + service + "__" + name
						continue
					}
				}
			}
			n[k] = rewriteRefs(v, service, names)
		}
		return n
	case []any:
		for i, v := range n {
			n[i] = rewriteRefs(v, service, names)
		}
		return n
	default:
		return n
	}
}

// deepCopy clones a JSON-shaped value (maps/slices/scalars only, as produced
// by json.Unmarshal into any) so rewriting one service's document never
// mutates a value another goroutine might still be holding.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}
