package queue

import (
	"encoding/json"
	"time"

	"github.com/embercore/forge/jobs"
)

// Envelope is the wire format for every entry on a job stream (spec §3's
// queue message shape): an opaque job-type-specific payload plus the
// correlation metadata needed to resume tracing/logging on the consumer
// side of the queue boundary.
type Envelope struct {
	ID            string          `json:"id"`
	Type          jobs.Type       `json:"type"`
	JobID         string          `json:"job_id"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
}

func marshalEnvelope(typ jobs.Type, jobID, correlationID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:          typ,
		JobID:         jobID,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
		Payload:       raw,
	}
	return json.Marshal(env)
}

func unmarshalEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
