package observability

import (
	"regexp"
	"strings"
)

// defaultRules covers what the gateway is most likely to leak into a log
// line: credentials forwarded verbatim on proxied requests, and PII coming
// back in backend payloads.
var defaultRules = []redactRule{
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`Authorization:\s*\S+`), "Authorization: [REDACTED]"},
	{regexp.MustCompile(`[a-f0-9]{32}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\+?[0-9]{1,3}[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), "[REDACTED_SSN]"},
}

// secretHeaders are replaced wholesale rather than pattern-matched; their
// values are secret by definition, whatever shape they have.
var secretHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"api-key":             true,
	"x-auth-token":        true,
	"cookie":              true,
	"set-cookie":          true,
}

type redactRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor scrubs secret-shaped substrings out of strings before they reach
// a log sink.
type Redactor struct {
	rules []redactRule
}

// NewRedactor returns a Redactor with the default rule set.
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules}
}

// AddRule appends a deployment-specific rule. Invalid patterns are skipped:
// a bad custom rule must not take logging down with it.
func (r *Redactor) AddRule(pattern, replacement string) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	r.rules = append(r.rules, redactRule{pattern: compiled, replacement: replacement})
}

// Redact applies every rule to input.
func (r *Redactor) Redact(input string) string {
	for _, rule := range r.rules {
		input = rule.pattern.ReplaceAllString(input, rule.replacement)
	}
	return input
}

// RedactHeaders returns a copy of headers safe to log: secret-bearing
// headers are blanked entirely, everything else is pattern-scrubbed.
func (r *Redactor) RedactHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		if secretHeaders[strings.ToLower(name)] {
			out[name] = []string{"[REDACTED]"}
			continue
		}
		scrubbed := make([]string, len(values))
		for i, v := range values {
			scrubbed[i] = r.Redact(v)
		}
		out[name] = scrubbed
	}
	return out
}
