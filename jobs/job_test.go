package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestType_IDPrefix(t *testing.T) {
	assert.Equal(t, "train-", TypeTraining.IDPrefix())
	assert.Equal(t, "gen-", TypeGeneration.IDPrefix())
}

func TestJob_Clone_NoAliasing(t *testing.T) {
	loss := 0.5
	started := time.Now()
	orig := Job{
		ID:     "train-abc123",
		Type:   TypeTraining,
		Status: StatusRunning,
		Config: map[string]any{"steps": 100},
		Progress: Progress{
			CurrentStep: 10,
			TotalSteps:  100,
			Loss:        &loss,
		},
		StartedAt:   &started,
		OutputPaths: []string{"a.png", "b.png"},
	}

	clone := orig.Clone()

	// Mutate clone's pointer/slice/map fields and assert the original is untouched.
	clone.Config["steps"] = 200
	clone.OutputPaths[0] = "mutated.png"
	*clone.Progress.Loss = 9.9
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, 100, orig.Config["steps"])
	assert.Equal(t, "a.png", orig.OutputPaths[0])
	assert.Equal(t, 0.5, *orig.Progress.Loss)
	assert.Equal(t, started, *orig.StartedAt)
}

func TestJob_Clone_NilFieldsStayNil(t *testing.T) {
	orig := Job{ID: "gen-xyz"}
	clone := orig.Clone()
	require.Nil(t, clone.Config)
	require.Nil(t, clone.OutputPaths)
	require.Nil(t, clone.StartedAt)
	require.Nil(t, clone.CompletedAt)
	require.Nil(t, clone.Progress.Loss)
}
