// Package jobs defines the Job entity (spec §3) and the Store contract
// for job/character records (component C3's "job records" + "characters"
// operation families). The actual persistent key-value backend is an
// injected capability per spec §1 ("treated as a capability, not
// reimplemented"); this package defines the contract plus a Redis-backed
// implementation (the capability already present in this stack) and an
// in-memory implementation for tests and single-process fast-test mode.
package jobs

import "time"

// Type enumerates the two job families.
type Type string

const (
	TypeTraining   Type = "training"
	TypeGeneration Type = "generation"
)

// Status enumerates the job lifecycle states from §3.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress is the mutable progress snapshot embedded in a Job record.
type Progress struct {
	CurrentStep    int      `json:"current_step"`
	TotalSteps     int      `json:"total_steps"`
	ProgressPct    float64  `json:"progress_pct"`
	Loss           *float64 `json:"loss,omitempty"`
	LR             *float64 `json:"lr,omitempty"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
	IterationSpeed *float64 `json:"iteration_speed,omitempty"`
}

// Job is the logical job record from spec §3. Config is stored as opaque
// JSON-serializable data (map[string]any) since its shape is
// plugin-defined, not known to the core.
type Job struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Status        Status         `json:"status"`
	Config        map[string]any `json:"config"`
	Progress      Progress       `json:"progress"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	OutputPath    string         `json:"output_path,omitempty"`
	OutputPaths   []string       `json:"output_paths,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	ErrorStack    string         `json:"error_stack,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

// Clone returns a deep-enough copy of j so callers can mutate the result
// without racing the store's internal state (mirrors the
// session/inmem.cloneSession pattern in the teacher).
func (j Job) Clone() Job {
	out := j
	if j.Config != nil {
		out.Config = make(map[string]any, len(j.Config))
		for k, v := range j.Config {
			out.Config[k] = v
		}
	}
	if j.OutputPaths != nil {
		out.OutputPaths = append([]string(nil), j.OutputPaths...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Progress.Loss != nil {
		v := *j.Progress.Loss
		out.Progress.Loss = &v
	}
	if j.Progress.LR != nil {
		v := *j.Progress.LR
		out.Progress.LR = &v
	}
	if j.Progress.ETASeconds != nil {
		v := *j.Progress.ETASeconds
		out.Progress.ETASeconds = &v
	}
	if j.Progress.IterationSpeed != nil {
		v := *j.Progress.IterationSpeed
		out.Progress.IterationSpeed = &v
	}
	return out
}

// IDPrefix returns the type-prefix used for synthesised job IDs
// ("train-" or "gen-"), per the Open Question resolved in DESIGN.md
// (12 hex characters, not 8).
func (t Type) IDPrefix() string {
	if t == TypeTraining {
		return "train-"
	}
	return "gen-"
}
