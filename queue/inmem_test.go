package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/forge/jobs"
)

func TestInmemQueue_SubmitConsumeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q := NewInmemQueue()

	_, err := q.Submit(ctx, jobs.TypeTraining, "train-1", "req-1", map[string]any{"a": 1})
	require.NoError(t, err)

	ch, err := q.Consume(ctx, jobs.TypeTraining, "worker-1")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "train-1", msg.Envelope.JobID)
		assert.Equal(t, "req-1", msg.Envelope.CorrelationID)
		assert.NoError(t, msg.Ack(ctx))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInmemQueue_SeparatesStreamsByType(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q := NewInmemQueue()

	_, err := q.Submit(ctx, jobs.TypeGeneration, "gen-1", "", nil)
	require.NoError(t, err)

	trainCh, err := q.Consume(ctx, jobs.TypeTraining, "w")
	require.NoError(t, err)

	select {
	case <-trainCh:
		t.Fatal("generation job leaked onto the training channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInmemQueue_IDsAreUnique(t *testing.T) {
	ctx := context.Background()
	q := NewInmemQueue()
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id, err := q.Submit(ctx, jobs.TypeTraining, "train-x", "", nil)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
