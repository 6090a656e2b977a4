// Package progressbus implements the C4 progress event bus: per-job
// progress fan-out to any number of subscribers (the SSE edge, UELR steps,
// job completion watchers), with a bounded replay buffer so a subscriber
// that joins mid-job can catch up.
package progressbus

import (
	"context"
	"time"

	"github.com/embercore/forge/jobs"
)

// HistoryLimit bounds how many events GetHistory can return per job
// (spec §4's "bounded ring-buffer history", default 100).
const HistoryLimit = 100

// KeepaliveInterval is how often an idle subscriber channel receives a
// keepalive sentinel event (EventKeepalive) so the SSE edge can emit a
// comment line and downstream proxies don't time out the connection.
const KeepaliveInterval = 30 * time.Second

// EventKind distinguishes a real progress update from the synthetic
// keepalive sentinel a Subscribe channel emits during idle periods.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventKeepalive EventKind = "keepalive"
)

// Event is a single point-in-time progress update for a job.
type Event struct {
	Kind          EventKind     `json:"kind"`
	JobID         string        `json:"job_id"`
	Type          jobs.Type     `json:"type"`
	Status        jobs.Status   `json:"status"`
	Stage         string        `json:"stage,omitempty"`
	Progress      jobs.Progress `json:"progress"`
	Message       string        `json:"message,omitempty"`
	ArtifactPath  string        `json:"artifact_path,omitempty"`
	ArtifactType  string        `json:"artifact_type,omitempty"`
	ErrorStack    string        `json:"error_stack,omitempty"`
	Seq           int64         `json:"seq"`
	Timestamp     time.Time     `json:"timestamp"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// Terminal reports whether the event reflects a terminal job status.
func (e Event) Terminal() bool {
	return e.Kind == EventProgress && e.Status.Terminal()
}

// Bus is the C4 contract: publish progress for a job, subscribe to a job's
// live feed, or fetch its bounded recent history.
type Bus interface {
	// Publish fans e out to every current subscriber of e.JobID and appends
	// it to that job's bounded history ring.
	Publish(ctx context.Context, e Event) error
	// Subscribe returns a channel of events for jobID. The channel closes
	// after a terminal event is delivered, after ctx is cancelled, or after
	// calling the returned cancel function.
	Subscribe(ctx context.Context, jobID string) (<-chan Event, context.CancelFunc, error)
	// GetHistory returns up to HistoryLimit most recent events for jobID,
	// oldest first.
	GetHistory(ctx context.Context, jobID string) ([]Event, error)
}
