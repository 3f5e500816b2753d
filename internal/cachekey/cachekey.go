// Package cachekey builds the stable string key used to memoize a resolved
// reference, both in the per-request singleflight group and in the shared
// cache.
package cachekey

import (
	"fmt"
	"net/url"
	"strings"
)

// Key derives a cache key from a relation path, the optional terminal id,
// and query parameters taken from $rel_params. Encoding params through
// url.Values.Encode gives a deterministic key regardless of Go's randomized
// map iteration order, since Encode sorts by key before joining.
func Key(relation []string, id string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(strings.Join(relation, "/"))

	if id != "" {
		b.WriteByte('/')
		b.WriteString(id)
	}

	if len(params) > 0 {
		values := make(url.Values, len(params))
		for k, v := range params {
			values.Set(k, toString(v))
		}
		b.WriteByte('?')
		b.WriteString(values.Encode())
	}

	return b.String()
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
