package executor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/progressbus"
)

var errPluginBoom = errors.New("synthetic plugin failure")

func newTestExecutor(t *testing.T) (*Executor, jobs.Store, *plugin.Registry) {
	t.Helper()
	dir := t.TempDir()
	store := jobs.NewInmemStore()
	bus := progressbus.NewInProcessBus()
	registry := plugin.NewRegistry()
	registry.RegisterTraining("mock-training", plugin.NewMockTrainingPlugin())
	registry.RegisterImage("mock-image", plugin.NewMockImagePlugin())
	ex := New(store, bus, registry, Config{VolumeRoot: dir, MinEmitInterval: time.Millisecond})
	return ex, store, registry
}

func TestExecutor_RunTraining_CompletesAndPersistsOutput(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	ctx := context.Background()

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeTraining), Type: jobs.TypeTraining, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	if err := store.Save(ctx, job.ID, job); err != nil {
		t.Fatal(err)
	}

	outputPath := ex.cfg.VolumeRoot + "/output/lora.safetensors"
	req := TrainingRequest{
		PluginName: "mock-training",
		Config:     map[string]any{"steps": float64(3)},
		ImagesDir:  ex.cfg.VolumeRoot + "/images",
		OutputPath: outputPath,
	}

	final, err := ex.RunTraining(ctx, job, req)
	if err != nil {
		t.Fatalf("RunTraining: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("want completed, got %s", final.Status)
	}
	if final.OutputPath != outputPath {
		t.Fatalf("want output path %s, got %s", outputPath, final.OutputPath)
	}
	if final.Progress.CurrentStep != final.Progress.TotalSteps {
		t.Fatalf("want final step == total, got %d/%d", final.Progress.CurrentStep, final.Progress.TotalSteps)
	}

	if _, err := os.Stat(ex.cfg.VolumeRoot + "/output/lora_training_config.json"); err != nil {
		t.Fatalf("want sidecar file written: %v", err)
	}
	if _, err := os.Stat(ex.cfg.VolumeRoot + "/logs/jobs/" + job.ID + ".jsonl"); err != nil {
		t.Fatalf("want job log written: %v", err)
	}
}

func TestExecutor_RunTraining_UnknownPluginFails(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	ctx := context.Background()

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeTraining), Type: jobs.TypeTraining, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	_ = store.Save(ctx, job.ID, job)

	_, err := ex.RunTraining(ctx, job, TrainingRequest{PluginName: "does-not-exist"})
	if err == nil {
		t.Fatal("want error for unregistered plugin")
	}
}

func TestExecutor_RunTraining_PluginFailureMarksJobFailed(t *testing.T) {
	ex, store, registry := newTestExecutor(t)
	ctx := context.Background()
	registry.RegisterTraining("always-fails", failingTrainingPlugin{})

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeTraining), Type: jobs.TypeTraining, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	_ = store.Save(ctx, job.ID, job)

	final, err := ex.RunTraining(ctx, job, TrainingRequest{PluginName: "always-fails", Config: map[string]any{}})
	if err != nil {
		t.Fatalf("want plugin failure reflected on job, not returned: %v", err)
	}
	if final.Status != jobs.StatusFailed {
		t.Fatalf("want failed, got %s", final.Status)
	}
	if final.ErrorMessage == "" || final.ErrorStack == "" {
		t.Fatal("want error message and stack captured")
	}
}

func TestExecutor_RunGeneration_CompletesWithAllPaths(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	ctx := context.Background()

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeGeneration), Type: jobs.TypeGeneration, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	_ = store.Save(ctx, job.ID, job)

	req := GenerationRequest{PluginName: "mock-image", OutputDir: ex.cfg.VolumeRoot + "/out", Count: 3}
	final, err := ex.RunGeneration(ctx, job, req)
	if err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("want completed, got %s", final.Status)
	}
	if len(final.OutputPaths) != 3 {
		t.Fatalf("want 3 output paths, got %d", len(final.OutputPaths))
	}
}

func TestExecutor_Cancel_RejectsAlreadyTerminalJob(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	ctx := context.Background()

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeTraining), Type: jobs.TypeTraining, Status: jobs.StatusCompleted, CreatedAt: time.Now()}
	_ = store.Save(ctx, job.ID, job)

	if _, err := ex.Cancel(ctx, job); err == nil {
		t.Fatal("want error cancelling an already-terminal job")
	}
}

func TestExecutor_Cancel_TransitionsRunningJob(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	ctx := context.Background()

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeTraining), Type: jobs.TypeTraining, Status: jobs.StatusRunning, CreatedAt: time.Now()}
	_ = store.Save(ctx, job.ID, job)

	updated, err := ex.Cancel(ctx, job)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if updated.Status != jobs.StatusCancelled {
		t.Fatalf("want cancelled, got %s", updated.Status)
	}
}

func TestExecutor_ProgressEventsPublishedToBus(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	ctx := context.Background()

	job := jobs.Job{ID: jobs.NewJobID(jobs.TypeTraining), Type: jobs.TypeTraining, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	_ = store.Save(ctx, job.ID, job)

	subCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	events, unsub, err := ex.bus.Subscribe(subCtx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	req := TrainingRequest{PluginName: "mock-training", Config: map[string]any{"steps": float64(2)}, OutputPath: ex.cfg.VolumeRoot + "/o.safetensors"}
	go ex.RunTraining(ctx, job, req)

	sawTerminal := false
	for !sawTerminal {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("channel closed before terminal event observed")
			}
			if e.Terminal() {
				sawTerminal = true
			}
		case <-subCtx.Done():
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

type failingTrainingPlugin struct{}

func (failingTrainingPlugin) Name() string              { return "always-fails" }
func (failingTrainingPlugin) SupportedMethods() []string { return nil }
func (failingTrainingPlugin) GetCapabilities(context.Context) (plugin.CapabilitySchema, error) {
	return plugin.CapabilitySchema{}, nil
}
func (failingTrainingPlugin) ValidateConfig(context.Context, map[string]any) error { return nil }
func (failingTrainingPlugin) Train(context.Context, map[string]any, string, string, string, string, plugin.ProgressCallback) (plugin.Result, error) {
	return plugin.Result{}, errPluginBoom
}
func (failingTrainingPlugin) Cancel(context.Context) error { return nil }
