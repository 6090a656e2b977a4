// Package interactions implements the C6 Interaction Register (UELR): an
// append-only, file-backed log of multi-step user interactions that
// stitches a request across the frontend, backend, worker, and plugin
// tiers under one interaction_id.
package interactions

import "time"

// Status is the interaction/step lifecycle status.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Component identifies which tier emitted a step.
type Component string

const (
	ComponentFrontend Component = "frontend"
	ComponentBackend  Component = "backend"
	ComponentWorker   Component = "worker"
	ComponentPlugin   Component = "plugin"
	ComponentExternal Component = "external"
	ComponentQueue    Component = "queue"
)

// Step is one recorded event within an interaction.
type Step struct {
	StepID        string         `json:"step_id"`
	InteractionID string         `json:"interaction_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Type          string         `json:"type"`
	Component     Component      `json:"component"`
	Timestamp     time.Time      `json:"timestamp"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
	Message       string         `json:"message"`
	Status        Status         `json:"status"`
	Details       map[string]any `json:"details,omitempty"`
}

// Interaction is the C6 header record plus its accumulated steps.
type Interaction struct {
	InteractionID  string     `json:"interaction_id"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
	ActionName     string     `json:"action_name"`
	ActionCategory string     `json:"action_category,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	Status         Status     `json:"status"`
	ErrorSummary   string     `json:"error_summary,omitempty"`
	Page           string     `json:"page,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	StepCount      int        `json:"step_count"`
	ErrorCount     int        `json:"error_count"`
	Steps          []Step     `json:"steps,omitempty"`
}

// clone returns a deep-enough copy so callers can't mutate store internals
// through a returned value.
func (in Interaction) clone() Interaction {
	out := in
	if in.EndedAt != nil {
		t := *in.EndedAt
		out.EndedAt = &t
	}
	if in.DurationMS != nil {
		d := *in.DurationMS
		out.DurationMS = &d
	}
	if in.Steps != nil {
		out.Steps = append([]Step(nil), in.Steps...)
	}
	return out
}
