package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact_TokenPrefixes(t *testing.T) {
	in := "trigger_word hf_abc123 and sk-live-xyz and ghp_deadbeef and rpa_feedface"
	out := Redact(in)
	assert.Contains(t, out, "hf_***REDACTED***")
	assert.Contains(t, out, "sk_***REDACTED***")
	assert.Contains(t, out, "ghp_***REDACTED***")
	assert.Contains(t, out, "rpa_***REDACTED***")
	assert.NotContains(t, out, "hf_abc123")
}

func TestRedact_BearerToken(t *testing.T) {
	out := Redact("Authorization: Bearer abc.def.ghi")
	assert.Equal(t, "Authorization: Bearer ***REDACTED***", out)
}

func TestRedact_KeyEqualsValue(t *testing.T) {
	out := Redact("token=supersecret&other=1")
	assert.Contains(t, out, "token=***")
	assert.NotContains(t, out, "supersecret")
}

func TestRedact_HomePaths(t *testing.T) {
	assert.Equal(t, "/[HOME]/repo/file.go", Redact("/Users/alice/repo/file.go"))
	assert.Equal(t, "/[HOME]/repo/file.go", Redact("/home/bob/repo/file.go"))
}

func TestRedact_IsIdempotent(t *testing.T) {
	in := "hf_abc123 Bearer xyz token=secret /Users/alice/x"
	once := Redact(in)
	twice := Redact(once)
	assert.Equal(t, once, twice)
}

func TestRedactValue_NestedKeys(t *testing.T) {
	v := map[string]any{
		"password": "hunter2",
		"nested": map[string]any{
			"Authorization": "Bearer xyz",
			"safe":          "value",
		},
		"list": []any{
			map[string]any{"api_key": "abc"},
		},
	}
	out := RedactValue(v).(map[string]any)
	assert.Equal(t, "***REDACTED***", out["password"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "***REDACTED***", nested["Authorization"])
	assert.Equal(t, "value", nested["safe"])
	list := out["list"].([]any)
	item := list[0].(map[string]any)
	assert.Equal(t, "***REDACTED***", item["api_key"])
}

func TestRedactValue_DepthBound(t *testing.T) {
	// Build a structure deeper than maxRedactDepth and ensure it does not
	// panic or infinite loop; behavior beyond the bound is "leave as is".
	var v any = map[string]any{"password": "leaf"}
	for i := 0; i < maxRedactDepth+5; i++ {
		v = map[string]any{"wrap": v}
	}
	assert.NotPanics(t, func() { RedactValue(v) })
}
