package jobs

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobID_PrefixAndLength(t *testing.T) {
	trainRe := regexp.MustCompile(`^train-[0-9a-f]{12}$`)
	genRe := regexp.MustCompile(`^gen-[0-9a-f]{12}$`)

	id := NewJobID(TypeTraining)
	assert.Regexp(t, trainRe, id)

	id = NewJobID(TypeGeneration)
	assert.Regexp(t, genRe, id)
}

func TestNewJobID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id := NewJobID(TypeTraining)
		_, dup := seen[id]
		require.False(t, dup, "duplicate job id generated: %s", id)
		seen[id] = struct{}{}
	}
}

func TestPatch_Apply_OnlyNonNilFieldsMerge(t *testing.T) {
	orig := Job{
		ID:         "train-1",
		Status:     StatusRunning,
		OutputPath: "orig.safetensors",
	}
	msg := "boom"
	patch := Patch{ErrorMessage: &msg}

	updated := patch.Apply(orig, StatusFailed)

	assert.Equal(t, StatusFailed, updated.Status)
	assert.Equal(t, "boom", updated.ErrorMessage)
	// Untouched field preserved.
	assert.Equal(t, "orig.safetensors", updated.OutputPath)
	// Original job struct itself unmutated.
	assert.Equal(t, StatusRunning, orig.Status)
	assert.Empty(t, orig.ErrorMessage)
}

func TestPatch_Apply_Progress(t *testing.T) {
	orig := Job{ID: "train-1", Status: StatusRunning}
	progress := Progress{CurrentStep: 5, TotalSteps: 10, ProgressPct: 50}
	patch := Patch{Progress: &progress}

	updated := patch.Apply(orig, StatusRunning)

	assert.Equal(t, 5, updated.Progress.CurrentStep)
	assert.Equal(t, 50.0, updated.Progress.ProgressPct)
}
