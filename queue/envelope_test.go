package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/forge/jobs"
)

func TestEnvelope_MarshalUnmarshalRoundTrip(t *testing.T) {
	data, err := marshalEnvelope(jobs.TypeTraining, "train-123", "req-abc", map[string]any{"steps": 100})
	require.NoError(t, err)

	env, err := unmarshalEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, jobs.TypeTraining, env.Type)
	assert.Equal(t, "train-123", env.JobID)
	assert.Equal(t, "req-abc", env.CorrelationID)
	assert.False(t, env.CreatedAt.IsZero())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, float64(100), payload["steps"])
}

func TestUnmarshalEnvelope_Malformed(t *testing.T) {
	_, err := unmarshalEnvelope([]byte("not json"))
	assert.Error(t, err)
}
