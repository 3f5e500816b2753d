// Package placeholder substitutes "{expr}" templates embedded in strings by
// evaluating expr as a JSONPath query against a context object.
package placeholder

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Resolve substitutes every "{expr}" occurrence in template with the string
// form of the first JSONPath match of expr against ctx. Non-string templates
// pass through unchanged. Expressions that don't resolve (no match, or an
// evaluation error) are replaced with the empty string.
func Resolve(template any, ctx map[string]any) any {
	s, ok := template.(string)
	if !ok {
		return template
	}
	if !strings.Contains(s, "{") {
		return s
	}

	var out strings.Builder
	rest := s
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start

		out.WriteString(rest[:start])
		expr := rest[start+1 : end]
		out.WriteString(evaluate(expr, ctx))
		rest = rest[end+1:]
	}
	return out.String()
}

// ResolveParams runs Resolve over every value of a params map, for use with
// $rel_params.
func ResolveParams(params map[string]any, ctx map[string]any) map[string]any {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		resolved[k] = Resolve(v, ctx)
	}
	return resolved
}

func evaluate(expr string, ctx map[string]any) string {
	query := expr
	if !strings.HasPrefix(query, "$") {
		query = "$." + query
	}

	value, err := jsonpath.Get(query, map[string]any(ctx))
	if err != nil {
		return ""
	}

	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprint(v[0])
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
