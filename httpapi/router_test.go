package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/forge/executor"
	"github.com/embercore/forge/interactions"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/progressbus"
	"github.com/embercore/forge/ratelimit"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	volumeRoot := t.TempDir()

	registry := plugin.NewRegistry()
	registry.RegisterTraining("mock-training", plugin.NewMockTrainingPlugin())
	registry.RegisterImage("mock-image", plugin.NewMockImagePlugin())

	store := jobs.NewInmemStore()
	bus := progressbus.NewInProcessBus()
	exec := executor.New(store, bus, registry, executor.Config{VolumeRoot: volumeRoot})

	interactionStore, err := interactions.NewStore(t.TempDir())
	require.NoError(t, err)

	return Deps{
		Jobs:          store,
		Collaborators: jobs.NewInmemCollaboratorStore(),
		Bus:           bus,
		Plugins:       registry,
		Executor:      exec,
		Interactions:  interactionStore,
		Limiter:       ratelimit.New(),
		VolumeRoot:    volumeRoot,
		LogRoot:       t.TempDir(),

		DefaultTrainingPlugin: "mock-training",
		DefaultImagePlugin:    "mock-image",

		SubmitTraining: func(ctx context.Context, job jobs.Job, req executor.TrainingRequest) error {
			_, err := exec.RunTraining(context.Background(), job, req)
			return err
		},
		SubmitGeneration: func(ctx context.Context, job jobs.Job, req executor.GenerationRequest) error {
			_, err := exec.RunGeneration(context.Background(), job, req)
			return err
		},
	}
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthEndpoints(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	for _, path := range []string{"/health", "/api/health", "/api/ready"} {
		rec := doRequest(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := doRequest(t, r, http.MethodGet, "/api/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Contains(t, info.TrainingPlugins, "mock-training")
	assert.Contains(t, info.ImagePlugins, "mock-image")
}

func TestRouter_CorrelationIDEchoedBack(t *testing.T) {
	r := NewRouter(newTestDeps(t))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "c-test-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "c-test-1", rec.Header().Get("X-Correlation-ID"))
}

func TestRouter_CorrelationIDSynthesisedWhenAbsent(t *testing.T) {
	r := NewRouter(newTestDeps(t))
	rec := doRequest(t, r, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRouter_CharacterCRUD(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	rec := doRequest(t, r, http.MethodPost, "/api/characters", map[string]any{"id": "char-1", "name": "Aria"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/characters/char-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Aria", got["name"])

	rec = doRequest(t, r, http.MethodPatch, "/api/characters/char-1", map[string]any{"name": "Aria v2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/characters", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodDelete, "/api/characters/char-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/characters/char-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_CharacterGet_Missing(t *testing.T) {
	r := NewRouter(newTestDeps(t))
	rec := doRequest(t, r, http.MethodGet, "/api/characters/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Detail, "not found")
}

func TestRouter_TrainingSubmitAndPollToCompletion(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	rec := doRequest(t, r, http.MethodPost, "/api/training", map[string]any{
		"character_id": "char-1",
		"config":       map[string]any{"steps": 2.0},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobs.TypeTraining, job.Type)
	require.True(t, len(job.ID) > 6 && job.ID[:6] == "train-")

	rec = doRequest(t, r, http.MethodGet, "/api/training/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress.ProgressPct)
}

func TestRouter_TrainingSubmit_RejectsOutOfBoundsParameter(t *testing.T) {
	r := NewRouter(newTestDeps(t))
	rec := doRequest(t, r, http.MethodPost, "/api/training", map[string]any{
		"config": map[string]any{"steps": 500.0},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GenerationSubmitAndCancel(t *testing.T) {
	deps := newTestDeps(t)
	r := NewRouter(deps)

	rec := doRequest(t, r, http.MethodPost, "/api/generation", map[string]any{
		"config": map[string]any{"count": 1.0},
		"count":  1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	// Job already completed synchronously by the test's SubmitGeneration
	// callback; cancelling a terminal job is a conflict.
	rec = doRequest(t, r, http.MethodPost, "/api/generation/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_UELRInteractionRoundTrip(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	rec := doRequest(t, r, http.MethodPost, "/api/uelr/interactions", map[string]any{
		"interaction_id": "i1",
		"action_name":    "submit_training",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/uelr/interactions/i1/steps", map[string]any{
		"steps": []map[string]any{
			{"step_id": "s1", "type": "request", "component": "backend", "message": "ok", "status": "success"},
			{"step_id": "s2", "type": "request", "component": "backend", "message": "bad", "status": "error"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/uelr/interactions/i1/complete", map[string]any{"status": "success"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/uelr/interactions/i1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var in interactions.Interaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &in))
	assert.Equal(t, 2, in.StepCount)
	assert.Equal(t, 1, in.ErrorCount)
	require.NotNil(t, in.DurationMS)
}

func TestRouter_RateLimitExceededReturns429(t *testing.T) {
	deps := newTestDeps(t)
	deps.Limiter.SetLimit(ratelimit.RouteTraining, 60, 1)
	r := NewRouter(deps)

	body := map[string]any{"config": map[string]any{"steps": 1.0}}
	rec := doRequest(t, r, http.MethodPost, "/api/training", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/training", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var errBody errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "rate.exceeded", errBody.Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRouter_DebugBundleReturnsZip(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	rec := doRequest(t, r, http.MethodPost, "/api/training", map[string]any{
		"config": map[string]any{"steps": 1.0},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doRequest(t, r, http.MethodGet, "/api/jobs/"+job.ID+"/debug-bundle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestRouter_JobSummaryAndLogsView(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	rec := doRequest(t, r, http.MethodPost, "/api/training", map[string]any{
		"config": map[string]any{"steps": 1.0},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doRequest(t, r, http.MethodGet, "/api/jobs/"+job.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/jobs/"+job.ID+"/logs/view", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	lines, ok := view["lines"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, lines)
}
