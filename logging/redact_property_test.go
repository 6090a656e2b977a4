package logging

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genAlphaStringWithMax generates an alpha string with max length maxLen,
// mirroring the teacher's length-then-chars FlatMap idiom.
func genAlphaStringWithMax(maxLen int) gopter.Gen {
	return gen.IntRange(0, maxLen).FlatMap(func(length any) gopter.Gen {
		return gen.SliceOfN(length.(int), gen.AlphaChar()).Map(func(chars []rune) string {
			return string(chars)
		})
	}, reflect.TypeOf(""))
}

// genSecretFragment picks one of the literal secret markers the compiled
// redaction patterns key off of, so generated cases actually exercise
// redaction rather than only ever hitting the no-op path.
func genSecretFragment() gopter.Gen {
	fragments := []string{
		"hf_abcdef123456", "sk-live-deadbeef", "ghp_feedfaceabcd", "rpa_0123456789",
		"Bearer some.jwt.token", "token=supersecret", "password=hunter2",
		"/Users/alice/project", "/home/bob/project", "",
	}
	return gen.IntRange(0, len(fragments)-1).Map(func(i int) string {
		return fragments[i]
	})
}

// genRedactableText interleaves plain alpha noise with a secret fragment.
func genRedactableText() gopter.Gen {
	return gopter.CombineGens(
		genAlphaStringWithMax(20),
		genSecretFragment(),
		genAlphaStringWithMax(20),
	).Map(func(vals []any) string {
		return vals[0].(string) + " " + vals[1].(string) + " " + vals[2].(string)
	})
}

// TestRedact_IdempotenceProperty checks spec invariant 4: for any text,
// running the redactor twice yields the same result as running it once,
// because a replacement text that a pattern matches again is replaced by
// itself.
func TestRedact_IdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("redact(redact(x)) == redact(x)", prop.ForAll(
		func(s string) bool {
			once := Redact(s)
			twice := Redact(once)
			return once == twice
		},
		genRedactableText(),
	))

	properties.TestingRun(t)
}

// genRedactableFields builds a small fixed-shape map[string]any whose values
// are randomized, covering both sensitive-keyed and plain-keyed fields, for
// exercising the recursive RedactValue redactor.
func genRedactableFields() gopter.Gen {
	return gopter.CombineGens(
		genRedactableText(),
		genRedactableText(),
		genRedactableText(),
	).Map(func(vals []any) map[string]any {
		return map[string]any{
			"password":  vals[0],
			"api_key":   vals[1],
			"safe_note": vals[2],
		}
	})
}

// TestRedactValue_IdempotenceProperty checks the same invariant for the
// recursive, key-aware redactor used on structured log fields.
func TestRedactValue_IdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("RedactValue is idempotent", prop.ForAll(
		func(m map[string]any) bool {
			once := RedactValue(m)
			twice := RedactValue(once)
			return reflect.DeepEqual(once, twice)
		},
		genRedactableFields(),
	))

	properties.TestingRun(t)
}
