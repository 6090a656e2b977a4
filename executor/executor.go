package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/embercore/forge/correlation"
	"github.com/embercore/forge/ferrors"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/logging"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/progressbus"
)

// CollaboratorUpdater applies a completed job's result onto the owning
// collaborator record (e.g. a character gains a new LoRA path). Updates are
// read-modify-write; concurrent updates are last-writer-wins per spec §5 —
// callers are expected to update only fields they own.
type CollaboratorUpdater func(ctx context.Context, job jobs.Job, result plugin.Result) error

// Config tunes executor behavior; zero values fall back to spec defaults.
type Config struct {
	VolumeRoot         string
	MinEmitInterval    time.Duration
	HostMetrics        HostMetricsFunc
	OnHostMetrics      func(jobID string, m HostMetrics)
	CancelGracePeriod  time.Duration // how long Cancel waits before cancelling the job's run context
	UpdateCollaborator CollaboratorUpdater
}

// Executor drives the C5 stage machine: submission validation, the
// progress pipeline, completion/failure/cancellation handling, and job-log
// / progress-bus fan-out.
type Executor struct {
	store    jobs.Store
	bus      progressbus.Bus
	registry *plugin.Registry
	cfg      Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(store jobs.Store, bus progressbus.Bus, registry *plugin.Registry, cfg Config) *Executor {
	if cfg.CancelGracePeriod <= 0 {
		cfg.CancelGracePeriod = 5 * time.Second
	}
	return &Executor{
		store:    store,
		bus:      bus,
		registry: registry,
		cfg:      cfg,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// TrainingRequest holds everything RunTraining needs beyond the job record.
type TrainingRequest struct {
	PluginName  string
	Config      map[string]any
	ImagesDir   string
	OutputPath  string
	TriggerWord string
}

// RunTraining drives job through the training stage machine to a terminal
// state, returning the final job record. It never returns an error for a
// plugin-level failure — that is reflected in the job's own status/error
// fields — only for executor-internal setup failures (unknown plugin,
// store errors).
func (e *Executor) RunTraining(ctx context.Context, job jobs.Job, req TrainingRequest) (jobs.Job, error) {
	tp, ok := e.registry.Training(req.PluginName)
	if !ok {
		return jobs.Job{}, ferrors.New(ferrors.KindPluginUnavailable, "training plugin "+req.PluginName+" is not registered")
	}

	runCtx, cancel := e.register(job.ID, ctx)
	defer e.unregister(job.ID)

	logger, err := logging.NewTrainingJobLogger(e.cfg.VolumeRoot, job.ID)
	if err != nil {
		cancel()
		return jobs.Job{}, fmt.Errorf("open job logger: %w", err)
	}

	job, err = e.transition(runCtx, job, jobs.StatusRunning, StageInitializing, "initializing training job", &logger.JobLogger)
	if err != nil {
		cancel()
		return job, err
	}

	job, err = e.transition(runCtx, job, jobs.StatusRunning, StagePreparingDataset, "preparing training dataset", &logger.JobLogger)
	if err != nil {
		cancel()
		return job, err
	}
	if size, err := dirSize(req.ImagesDir); err == nil {
		logger.Info(runCtx, fmt.Sprintf("dataset size %s", humanize.Bytes(uint64(size))), "training.dataset_size", logging.Fields{"bytes": size, "path": req.ImagesDir})
	}

	job, err = e.transition(runCtx, job, jobs.StatusRunning, StageTraining, "training started", &logger.JobLogger)
	if err != nil {
		cancel()
		return job, err
	}

	logger.Start(runCtx, totalStepsOf(req.Config))

	th := newThrottler(e.cfg.MinEmitInterval)
	hm := newHostMetricsCache(e.cfg.HostMetrics)
	sampledPaths := make(map[string]struct{})

	progressCB := func(step, total int, loss, lr *float64, samplePath string) {
		e.emitTrainingProgress(runCtx, &job, step, total, loss, lr, th, hm, &logger, samplePath, sampledPaths)
	}

	sinkCtx := plugin.WithOutputSink(runCtx, func(stream, line string) {
		logger.SubprocessOutput(runCtx, stream, line)
	})
	result, trainErr := tp.Train(sinkCtx, req.Config, req.ImagesDir, req.OutputPath, req.TriggerWord, job.ID, progressCB)
	cancel()

	if trainErr != nil {
		return e.fail(context.WithoutCancel(ctx), job, trainErr, &logger.JobLogger)
	}

	job, err = e.transition(context.WithoutCancel(ctx), job, jobs.StatusRunning, StageExporting, "exporting training output", &logger.JobLogger)
	if err != nil {
		return job, err
	}

	return e.completeTraining(context.WithoutCancel(ctx), job, req, result, &logger)
}

// GenerationRequest holds everything RunGeneration needs beyond the job
// record.
type GenerationRequest struct {
	PluginName string
	Config     map[string]any
	OutputDir  string
	LoRAPath   string
	Count      int
}

// RunGeneration drives job through the image-generation stage machine to a
// terminal state, returning the final job record. Like RunTraining, plugin
// failures are reflected on the job record rather than returned as an
// error.
func (e *Executor) RunGeneration(ctx context.Context, job jobs.Job, req GenerationRequest) (jobs.Job, error) {
	ip, ok := e.registry.Image(req.PluginName)
	if !ok {
		return jobs.Job{}, ferrors.New(ferrors.KindPluginUnavailable, "image plugin "+req.PluginName+" is not registered")
	}

	runCtx, cancel := e.register(job.ID, ctx)
	defer e.unregister(job.ID)

	logger, err := logging.NewJobLogger(e.cfg.VolumeRoot, job.ID)
	if err != nil {
		cancel()
		return jobs.Job{}, fmt.Errorf("open job logger: %w", err)
	}

	if err := ip.CheckHealth(runCtx); err != nil {
		cancel()
		return e.fail(context.WithoutCancel(ctx), job, fmt.Errorf("backend health check: %w", err), &logger)
	}

	job, err = e.transition(runCtx, job, jobs.StatusRunning, StageInitializing, "initializing generation job", &logger)
	if err != nil {
		cancel()
		return job, err
	}

	job, err = e.transition(runCtx, job, jobs.StatusRunning, StageSampling, "generation started", &logger)
	if err != nil {
		cancel()
		return job, err
	}

	th := newThrottler(e.cfg.MinEmitInterval)
	hm := newHostMetricsCache(e.cfg.HostMetrics)
	sampledPaths := make(map[string]struct{})

	progressCB := func(step, total int, loss, lr *float64, samplePath string) {
		e.emitGenerationProgress(runCtx, &job, step, total, th, hm, &logger, samplePath, sampledPaths)
	}

	result, genErr := ip.Generate(runCtx, req.Config, req.OutputDir, req.LoRAPath, req.Count, progressCB)
	cancel()

	if genErr != nil {
		return e.fail(context.WithoutCancel(ctx), job, genErr, &logger)
	}

	job, err = e.transition(context.WithoutCancel(ctx), job, jobs.StatusRunning, StageExporting, "exporting generated images", &logger)
	if err != nil {
		return job, err
	}

	return e.completeGeneration(context.WithoutCancel(ctx), job, result, &logger)
}

func (e *Executor) emitGenerationProgress(ctx context.Context, job *jobs.Job, step, total int, th *throttler, hm *hostMetricsCache, logger *logging.JobLogger, samplePath string, sampled map[string]struct{}) {
	now := time.Now()
	if !th.shouldEmit(step, now, false) {
		return
	}
	_, iterSpeed, eta := th.derived(step, total, now)
	if m := hm.sample(now); e.cfg.OnHostMetrics != nil {
		e.cfg.OnHostMetrics(job.ID, m)
	}

	pct := 0.0
	if total > 0 {
		pct = float64(step) / float64(total) * 100
	}
	progress := jobs.Progress{CurrentStep: step, TotalSteps: total, ProgressPct: pct, ETASeconds: eta, IterationSpeed: iterSpeed}

	updated, err := e.store.UpdateStatus(ctx, job.ID, jobs.StatusRunning, jobs.Patch{Progress: &progress})
	if err == nil {
		*job = updated
	}

	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: jobs.TypeGeneration,
		Status: jobs.StatusRunning, Stage: string(StageSampling), Progress: progress,
		CorrelationID: correlation.CorrelationID(ctx), Timestamp: now,
	})

	if samplePath != "" {
		if _, seen := sampled[samplePath]; !seen {
			sampled[samplePath] = struct{}{}
			logger.Info(ctx, "image generated", "job.sample_generated", logging.Fields{"path": samplePath, "index": step})
			_ = e.bus.Publish(ctx, progressbus.Event{
				Kind: progressbus.EventProgress, JobID: job.ID, Type: jobs.TypeGeneration,
				Status: jobs.StatusRunning, Stage: string(StageSampling),
				ArtifactType: "image", ArtifactPath: samplePath, Timestamp: time.Now(),
			})
		}
	}
}

// completeGeneration moves job to its terminal completed state with the
// full set of generated output paths.
func (e *Executor) completeGeneration(ctx context.Context, job jobs.Job, result plugin.Result, logger *logging.JobLogger) (jobs.Job, error) {
	now := time.Now()
	final := jobs.Progress{CurrentStep: job.Progress.TotalSteps, TotalSteps: job.Progress.TotalSteps, ProgressPct: 100}
	outputPath := result.OutputPath
	if len(result.OutputPaths) > 0 && outputPath == "" {
		outputPath = result.OutputPaths[0]
	}
	updated, err := e.store.UpdateStatus(ctx, job.ID, jobs.StatusCompleted, jobs.Patch{
		CompletedAt: &now, OutputPath: &outputPath, OutputPaths: result.OutputPaths, Progress: &final,
	})
	if err != nil {
		return job, err
	}
	logger.Info(ctx, "generation completed", "job.complete", logging.Fields{"output_paths": result.OutputPaths})
	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: updated.Type,
		Status: jobs.StatusCompleted, Stage: string(StageCompleted), Progress: final,
		CorrelationID: correlation.CorrelationID(ctx), Timestamp: now,
	})
	return updated, nil
}

// dirSize sums the size of every regular file under root, used to log a
// human-readable dataset size (spec §4.5 preparing_dataset stage) before
// training starts. A missing or unreadable root is reported to the caller
// rather than logged as zero.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func totalStepsOf(config map[string]any) int {
	if v, ok := config["steps"].(float64); ok {
		return int(v)
	}
	return 0
}

func (e *Executor) emitTrainingProgress(ctx context.Context, job *jobs.Job, step, total int, loss, lr *float64, th *throttler, hm *hostMetricsCache, logger *logging.TrainingJobLogger, samplePath string, sampled map[string]struct{}) {
	now := time.Now()
	if !th.shouldEmit(step, now, false) {
		return
	}
	_, iterSpeed, eta := th.derived(step, total, now)
	if m := hm.sample(now); e.cfg.OnHostMetrics != nil {
		e.cfg.OnHostMetrics(job.ID, m)
	}

	pct := 0.0
	if total > 0 {
		pct = float64(step) / float64(total) * 100
	}
	progress := jobs.Progress{
		CurrentStep: step, TotalSteps: total, ProgressPct: pct,
		Loss: loss, LR: lr, ETASeconds: eta, IterationSpeed: iterSpeed,
	}

	updated, err := e.store.UpdateStatus(ctx, job.ID, jobs.StatusRunning, jobs.Patch{Progress: &progress})
	if err == nil {
		*job = updated
	}

	var lossVal, lrVal float64
	if loss != nil {
		lossVal = *loss
	}
	if lr != nil {
		lrVal = *lr
	}
	logger.Step(ctx, step, total, lossVal, lrVal)

	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: jobs.TypeTraining,
		Status: jobs.StatusRunning, Stage: string(StageTraining), Progress: progress,
		CorrelationID: correlation.CorrelationID(ctx), Timestamp: now,
	})

	if samplePath != "" {
		if _, seen := sampled[samplePath]; !seen {
			sampled[samplePath] = struct{}{}
			logger.SampleGenerated(ctx, samplePath, step)
			_ = e.bus.Publish(ctx, progressbus.Event{
				Kind: progressbus.EventProgress, JobID: job.ID, Type: jobs.TypeTraining,
				Status: jobs.StatusRunning, Stage: string(StageSampling),
				ArtifactType: "sample", ArtifactPath: samplePath, Timestamp: time.Now(),
			})
		}
	}
}

// transition atomically moves job to status/stage, logs it, and publishes a
// progress event for it.
func (e *Executor) transition(ctx context.Context, job jobs.Job, status jobs.Status, stage Stage, message string, logger *logging.JobLogger) (jobs.Job, error) {
	updated, err := e.store.UpdateStatus(ctx, job.ID, status, jobs.Patch{})
	if err != nil {
		return job, fmt.Errorf("transition to %s: %w", stage, err)
	}
	logger.Stage(ctx, string(stage), message)
	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: updated.Type,
		Status: status, Stage: string(stage), Progress: updated.Progress,
		Message: message, CorrelationID: correlation.CorrelationID(ctx), Timestamp: time.Now(),
	})
	return updated, nil
}

// fail moves job to its terminal failed state, capturing error/type/stack.
func (e *Executor) fail(ctx context.Context, job jobs.Job, cause error, logger *logging.JobLogger) (jobs.Job, error) {
	now := time.Now()
	stack := string(debug.Stack())
	errMsg := cause.Error()
	errType := fmt.Sprintf("%T", cause)

	updated, err := e.store.UpdateStatus(ctx, job.ID, jobs.StatusFailed, jobs.Patch{
		CompletedAt: &now, ErrorMessage: &errMsg, ErrorType: &errType, ErrorStack: &stack,
	})
	if err != nil {
		return job, err
	}
	logger.Error(ctx, "job failed", "job.fail", logging.Fields{"error": errMsg, "error_type": errType})
	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: updated.Type,
		Status: jobs.StatusFailed, Stage: string(StageFailed), Progress: updated.Progress,
		Message: errMsg, ErrorStack: stack, CorrelationID: correlation.CorrelationID(ctx), Timestamp: now,
	})
	return updated, nil
}

// completeTraining writes the sidecar config, updates the owning
// collaborator record, and moves the job to its terminal completed state.
func (e *Executor) completeTraining(ctx context.Context, job jobs.Job, req TrainingRequest, result plugin.Result, logger *logging.TrainingJobLogger) (jobs.Job, error) {
	now := time.Now()

	if err := writeTrainingSidecar(req.OutputPath, job, req.Config, result); err != nil {
		logger.Warning(ctx, "failed to write training sidecar", "job.sidecar_write_failed", logging.Fields{"error": err.Error()})
	}

	if e.cfg.UpdateCollaborator != nil {
		if err := e.cfg.UpdateCollaborator(ctx, job, result); err != nil {
			logger.Warning(ctx, "failed to update collaborator record", "job.collaborator_update_failed", logging.Fields{"error": err.Error()})
		}
	}

	final := jobs.Progress{CurrentStep: job.Progress.TotalSteps, TotalSteps: job.Progress.TotalSteps, ProgressPct: 100}
	outputPath := result.OutputPath
	if outputPath == "" {
		outputPath = req.OutputPath
	}
	updated, err := e.store.UpdateStatus(ctx, job.ID, jobs.StatusCompleted, jobs.Patch{
		CompletedAt: &now, OutputPath: &outputPath, OutputPaths: result.OutputPaths, Progress: &final,
	})
	if err != nil {
		return job, err
	}
	logger.Complete(ctx, outputPath)
	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: updated.Type,
		Status: jobs.StatusCompleted, Stage: string(StageCompleted), Progress: final,
		CorrelationID: correlation.CorrelationID(ctx), Timestamp: now,
	})
	return updated, nil
}

// writeTrainingSidecar snapshots the submission alongside the output
// artifact per spec §4.5 ("sidecar training_config.json").
func writeTrainingSidecar(outputPath string, job jobs.Job, config map[string]any, result plugin.Result) error {
	if outputPath == "" {
		return nil
	}
	sidecar := map[string]any{
		"job_id":          job.ID,
		"config":          config,
		"final_loss":      result.FinalLoss,
		"total_steps":     job.Progress.TotalSteps,
		"completion_time": time.Now().UTC(),
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := outputPath
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return os.WriteFile(base+"_training_config.json", data, 0o644)
}

// Cancel transitions jobID to cancelled (rejecting if it is already
// terminal) and, if the job is running in this executor, cancels its run
// context after CancelGracePeriod. The plugin's own Cancel method is not
// called; the plugin observes cancellation only through that context.
func (e *Executor) Cancel(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	if job.Status.Terminal() {
		return job, ferrors.Conflict("job is already in a terminal state")
	}
	now := time.Now()
	updated, err := e.store.UpdateStatus(ctx, job.ID, jobs.StatusCancelled, jobs.Patch{CompletedAt: &now})
	if err != nil {
		return job, err
	}
	_ = e.bus.Publish(ctx, progressbus.Event{
		Kind: progressbus.EventProgress, JobID: job.ID, Type: updated.Type,
		Status: jobs.StatusCancelled, Stage: string(StageCancelled), Progress: updated.Progress,
		CorrelationID: correlation.CorrelationID(ctx), Timestamp: now,
	})

	e.mu.Lock()
	cancel, ok := e.cancels[job.ID]
	e.mu.Unlock()
	if ok {
		go func() {
			time.Sleep(e.cfg.CancelGracePeriod)
			cancel()
		}()
	}
	return updated, nil
}

func (e *Executor) register(jobID string, parent context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.cancels[jobID] = cancel
	e.mu.Unlock()
	return runCtx, cancel
}

func (e *Executor) unregister(jobID string) {
	e.mu.Lock()
	delete(e.cancels, jobID)
	e.mu.Unlock()
}
