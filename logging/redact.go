package logging

import (
	"encoding/json"
	"regexp"
	"strings"
)

// secretPatterns are compiled once at package init and applied, in order,
// to every serialized log line before it reaches a writer.
var secretPatterns = []struct {
	re     *regexp.Regexp
	redact func(match []string) string
}{
	{
		re: regexp.MustCompile(`\bhf_[A-Za-z0-9]+`),
		redact: func(m []string) string { return "hf_***REDACTED***" },
	},
	{
		re: regexp.MustCompile(`\bsk-[A-Za-z0-9-]+`),
		redact: func(m []string) string { return "sk_***REDACTED***" },
	},
	{
		re: regexp.MustCompile(`\bghp_[A-Za-z0-9]+`),
		redact: func(m []string) string { return "ghp_***REDACTED***" },
	},
	{
		re: regexp.MustCompile(`\brpa_[A-Za-z0-9]+`),
		redact: func(m []string) string { return "rpa_***REDACTED***" },
	},
	{
		re: regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`),
		redact: func(m []string) string {
			return "Bearer ***REDACTED***"
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(token|password|api[_-]?key)=([^&\s"']+)`),
		redact: func(m []string) string {
			return m[1] + "=***"
		},
	},
	{
		re: regexp.MustCompile(`(?i)"(password|token|api_key)"\s*:\s*"[^"]*"`),
		redact: func(m []string) string {
			return `"` + strings.ToLower(m[1]) + `":"***"`
		},
	},
	{
		re: regexp.MustCompile(`/Users/[^/\s"]+/`),
		redact: func(m []string) string {
			return "/[HOME]/"
		},
	},
	{
		re: regexp.MustCompile(`/home/[^/\s"]+/`),
		redact: func(m []string) string {
			return "/[HOME]/"
		},
	},
}

// sensitiveKeys is the recursive redactor's key-name denylist. Matching is
// case-insensitive and applies to any key anywhere in a nested structure.
var sensitiveKeys = map[string]struct{}{
	"authorization":   {},
	"cookie":          {},
	"set-cookie":      {},
	"x-api-key":       {},
	"api_key":         {},
	"apikey":          {},
	"token":           {},
	"password":        {},
	"secret":          {},
	"credential":      {},
	"auth":            {},
	"bearer":          {},
	"hf_token":        {},
	"runpod_api_key":  {},
	"github_token":    {},
}

const maxRedactDepth = 10

// Redact runs every compiled pattern against text and returns the
// resulting string. It is a pure function: same input always yields the
// same output, and applying it twice is idempotent (redact(redact(x)) ==
// redact(x)) because a replacement text that a pattern matches again is
// replaced by itself.
func Redact(text string) string {
	for _, p := range secretPatterns {
		text = p.re.ReplaceAllStringFunc(text, func(match string) string {
			sub := p.re.FindStringSubmatch(match)
			if sub == nil {
				return match
			}
			return p.redact(sub)
		})
	}
	return text
}

// RedactLine applies Redact to an already-serialized log line. It exists
// as a distinct entry point from Redact so callers that specifically want
// "the invariant from §8.4" (redact(line) == line after structured
// redaction already ran) have a single obvious call site.
func RedactLine(line []byte) []byte {
	return []byte(Redact(string(line)))
}

// RedactValue recursively redacts a JSON-serializable value, masking any
// value whose key (at any nesting depth, case-insensitive) is in
// sensitiveKeys. Recursion is bounded at maxRedactDepth; values beyond
// that depth are returned unredacted rather than silently dropped, since
// truncating data is worse than occasionally missing a deeply nested
// secret in a shape no known payload produces.
func RedactValue(v any) any {
	return redactValue(v, 0)
}

func redactValue(v any, depth int) any {
	if depth >= maxRedactDepth {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = "***REDACTED***"
				continue
			}
			out[k] = redactValue(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val, depth+1)
		}
		return out
	case string:
		return Redact(t)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// RedactJSON unmarshals raw JSON, applies RedactValue, and re-marshals it.
// If raw does not parse as JSON, it falls back to line-based Redact so
// malformed payloads are still scrubbed of obvious secret patterns.
func RedactJSON(raw []byte) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return RedactLine(raw)
	}
	out, err := json.Marshal(redactValue(v, 0))
	if err != nil {
		return RedactLine(raw)
	}
	return out
}
