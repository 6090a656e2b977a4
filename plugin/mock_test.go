package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTrainingPlugin_TrainEmitsProgressAndCompletes(t *testing.T) {
	p := NewMockTrainingPlugin()
	var steps []int
	result, err := p.Train(context.Background(), map[string]any{"steps": float64(5)}, "/images", "/out/lora.safetensors", "trigger", "train-1",
		func(step, total int, loss, lr *float64, samplePath string) {
			steps = append(steps, step)
			assert.Equal(t, 5, total)
		})
	require.NoError(t, err)
	assert.Equal(t, "/out/lora.safetensors", result.OutputPath)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, steps)
}

func TestMockTrainingPlugin_CancelStopsTraining(t *testing.T) {
	p := NewMockTrainingPlugin()
	require.NoError(t, p.Cancel(context.Background()))
	_, err := p.Train(context.Background(), map[string]any{"steps": float64(5)}, "", "", "", "", nil)
	assert.Error(t, err)
}

func TestMockImagePlugin_GenerateProducesCountPaths(t *testing.T) {
	p := NewMockImagePlugin()
	result, err := p.Generate(context.Background(), nil, "/out", "", 3, nil)
	require.NoError(t, err)
	assert.Len(t, result.OutputPaths, 3)
}

func TestMockImagePlugin_CheckHealth(t *testing.T) {
	p := NewMockImagePlugin()
	assert.NoError(t, p.CheckHealth(context.Background()))
}

func TestRegistry_ResolvesByName(t *testing.T) {
	r := NewRegistry()
	tp := NewMockTrainingPlugin()
	ip := NewMockImagePlugin()
	r.RegisterTraining("mock", tp)
	r.RegisterImage("mock", ip)

	got, ok := r.Training("mock")
	require.True(t, ok)
	assert.Equal(t, tp, got)

	_, ok = r.Image("missing")
	assert.False(t, ok)
}
