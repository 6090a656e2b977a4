package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/embercore/forge/correlation"
)

// jobFileLocks guards concurrent appends to the same per-job JSONL file.
// The spec requires each write to land atomically or be skipped with a
// service-log warning — never partially; a per-path mutex held only
// during the write (not across the whole JobLogger lifetime) gives that
// guarantee without serializing unrelated jobs.
var (
	jobFileLocksMu sync.Mutex
	jobFileLocks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	jobFileLocksMu.Lock()
	defer jobFileLocksMu.Unlock()
	l, ok := jobFileLocks[path]
	if !ok {
		l = &sync.Mutex{}
		jobFileLocks[path] = l
	}
	return l
}

// lockedFileWriter serializes writes to one JSONL file behind a per-path
// mutex and appends whole lines only.
type lockedFileWriter struct {
	path string
	mu   *sync.Mutex
}

func (w lockedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		GetLogger("forge.logging").Warning(context.Background(), "job log append failed", "log.job_append_failed", Fields{"path": w.path, "error": err.Error()})
		return len(p), nil // swallow: never return a partial-write error to zerolog
	}
	defer f.Close()
	if _, err := f.Write(p); err != nil {
		GetLogger("forge.logging").Warning(context.Background(), "job log append failed", "log.job_append_failed", Fields{"path": w.path, "error": err.Error()})
	}
	return len(p), nil
}

// JobLogger mirrors every call to both the process service log and a
// per-job JSONL file at <volume_root>/logs/jobs/<job_id>.jsonl.
type JobLogger struct {
	jobID   string
	service Logger
	jsonl   zerolog.Logger
}

// NewJobLogger constructs a JobLogger for jobID, rooted at volumeRoot
// (the layout's logs/jobs/ subdirectory is created on demand).
func NewJobLogger(volumeRoot, jobID string) (JobLogger, error) {
	dir := filepath.Join(volumeRoot, "logs", "jobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return JobLogger{}, fmt.Errorf("create job log dir: %w", err)
	}
	path := filepath.Join(dir, jobID+".jsonl")
	w := redactingWriter{next: lockedFileWriter{path: path, mu: lockFor(path)}}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return JobLogger{jobID: jobID, service: GetLogger("forge.job"), jsonl: zl}, nil
}

func (j JobLogger) write(ctx context.Context, level zerolog.Level, msg, event string, fields Fields) {
	cid := correlation.CorrelationID(ctx)
	// mirror to the service log first
	switch level {
	case zerolog.DebugLevel:
		j.service.Debug(ctx, msg, event, fields)
	case zerolog.WarnLevel:
		j.service.Warning(ctx, msg, event, fields)
	case zerolog.ErrorLevel:
		j.service.Error(ctx, msg, event, nil, fields)
	default:
		j.service.Info(ctx, msg, event, fields)
	}
	// then the job JSONL, with exactly the keys the spec mandates
	ev := j.jsonl.WithLevel(level).Str("service", j.service.service).Str("job_id", j.jobID)
	if cid != "" {
		ev = ev.Str("correlation_id", cid)
	}
	if event != "" {
		ev = ev.Str("event", event)
	}
	if len(fields) > 0 {
		ev = ev.Interface("fields", RedactValue(map[string]any(fields)))
	}
	ev.Msg(msg)
}

func (j JobLogger) Debug(ctx context.Context, msg, event string, fields Fields) {
	j.write(ctx, zerolog.DebugLevel, msg, event, fields)
}
func (j JobLogger) Info(ctx context.Context, msg, event string, fields Fields) {
	j.write(ctx, zerolog.InfoLevel, msg, event, fields)
}
func (j JobLogger) Warning(ctx context.Context, msg, event string, fields Fields) {
	j.write(ctx, zerolog.WarnLevel, msg, event, fields)
}
func (j JobLogger) Error(ctx context.Context, msg, event string, fields Fields) {
	j.write(ctx, zerolog.ErrorLevel, msg, event, fields)
}

// Stage logs a stage-machine transition under the canonical "stage.<value>"
// event name (spec §4.5).
func (j JobLogger) Stage(ctx context.Context, stage, message string) {
	j.Info(ctx, message, "stage."+stage, nil)
}

// SubprocessOutput logs one line of captured child-process output under
// "subprocess.stdout" or "subprocess.stderr".
func (j JobLogger) SubprocessOutput(ctx context.Context, stream, line string) {
	j.Info(ctx, line, "subprocess."+stream, nil)
}

// TrainingJobLogger adds canonical helpers over JobLogger, each emitting a
// stable event name so downstream tooling (debug bundles, dashboards) can
// grep for them without parsing message text.
type TrainingJobLogger struct {
	JobLogger
	startedAt time.Time
}

// NewTrainingJobLogger wraps NewJobLogger for the training stage machine.
func NewTrainingJobLogger(volumeRoot, jobID string) (TrainingJobLogger, error) {
	jl, err := NewJobLogger(volumeRoot, jobID)
	if err != nil {
		return TrainingJobLogger{}, err
	}
	return TrainingJobLogger{JobLogger: jl}, nil
}

func (t *TrainingJobLogger) Start(ctx context.Context, totalSteps int) {
	t.startedAt = time.Now()
	t.Info(ctx, "training started", "job.start", Fields{"total_steps": totalSteps})
}

func (t TrainingJobLogger) Step(ctx context.Context, step, total int, loss, lr float64) {
	t.Info(ctx, fmt.Sprintf("step %d/%d", step, total), "job.step", Fields{
		"step": step, "total_steps": total, "loss": loss, "lr": lr,
	})
}

func (t TrainingJobLogger) SampleGenerated(ctx context.Context, path string, step int) {
	t.Info(ctx, "sample generated", "job.sample_generated", Fields{"path": path, "step": step})
}

func (t TrainingJobLogger) CheckpointSaved(ctx context.Context, path string, step int) {
	t.Info(ctx, "checkpoint saved", "job.checkpoint_saved", Fields{"path": path, "step": step})
}

func (t TrainingJobLogger) Complete(ctx context.Context, outputPath string) {
	fields := Fields{"output_path": outputPath}
	if !t.startedAt.IsZero() {
		fields["training_time_seconds"] = time.Since(t.startedAt).Seconds()
	}
	t.Info(ctx, "training completed", "job.complete", fields)
}

func (t TrainingJobLogger) Fail(ctx context.Context, errType, errMessage, stack string) {
	t.Error(ctx, "training failed", "job.fail", Fields{
		"error_type": errType, "error": errMessage, "error_stack": stack,
	})
}
