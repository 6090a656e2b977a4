// Package executor implements the C5 job executor: the stage machine that
// drives a plugin through validation, run, progress, artifact, and terminal
// handling (spec §4.5).
package executor

// Stage is one state of the training/generation stage machine. It is
// reported on progress events and job-log entries; the coarser jobs.Status
// (queued/running/completed/failed/cancelled) is what's persisted on the
// job record itself.
type Stage string

const (
	StageQueued           Stage = "queued"
	StageInitializing     Stage = "initializing"
	StagePreparingDataset Stage = "preparing_dataset"
	StageCaptioning       Stage = "captioning"
	StageTraining         Stage = "training"
	StageSampling         Stage = "sampling"
	StageExporting        Stage = "exporting"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageCancelled        Stage = "cancelled"
)

// Terminal reports whether stage ends the stage machine.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}
