package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Store is the C3 "job records" operation family.
type Store interface {
	// Save persists a new or updated job record under id.
	Save(ctx context.Context, id string, record Job) error
	// Get returns the record for id, or (Job{}, false, nil) if absent.
	Get(ctx context.Context, id string) (Job, bool, error)
	// UpdateStatus atomically transitions id to status and merges patch
	// fields (progress, timestamps, output paths, error fields) into the
	// stored record. patch is applied via Patch.Apply.
	UpdateStatus(ctx context.Context, id string, status Status, patch Patch) (Job, error)
	// List returns up to limit records, optionally filtered by typ (pass
	// "" for no filter), newest first.
	List(ctx context.Context, typ Type, limit int) ([]Job, error)
}

// Patch describes a partial update applied by UpdateStatus. Only non-nil
// fields are merged; this lets executor code express "set progress and
// loss, leave everything else untouched" without reading-modifying-writing
// by hand at every call site.
type Patch struct {
	Progress     *Progress
	StartedAt    *time.Time
	CompletedAt  *time.Time
	OutputPath   *string
	OutputPaths  []string
	ErrorMessage *string
	ErrorType    *string
	ErrorStack   *string
}

// Apply merges p into j under the given status and returns the result.
// It does not mutate j.
func (p Patch) Apply(j Job, status Status) Job {
	out := j.Clone()
	out.Status = status
	if p.Progress != nil {
		out.Progress = *p.Progress
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	if p.OutputPath != nil {
		out.OutputPath = *p.OutputPath
	}
	if p.OutputPaths != nil {
		out.OutputPaths = p.OutputPaths
	}
	if p.ErrorMessage != nil {
		out.ErrorMessage = *p.ErrorMessage
	}
	if p.ErrorType != nil {
		out.ErrorType = *p.ErrorType
	}
	if p.ErrorStack != nil {
		out.ErrorStack = *p.ErrorStack
	}
	return out
}

// NewJobID synthesises an opaque job ID with the type prefix from §3 and
// a 12-hex-character suffix (the long form from the Open Question in §9,
// preferred over the short 8-hex form — see DESIGN.md).
func NewJobID(typ Type) string {
	return typ.IDPrefix() + randomHex(12)
}

func randomHex(n int) string {
	// n is a character count; need n/2 bytes (n is always even here).
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%0*d", n, 0)
	}
	s := hex.EncodeToString(b)
	if len(s) > n {
		s = s[:n]
	}
	return s
}

// CollaboratorStore is the identical save/get/delete/list shape the spec
// requires for "characters / auxiliary records" (collaborator entities
// such as characters and LoRAs). Records are opaque JSON-serializable
// maps; the core never interprets their contents beyond routing.
type CollaboratorStore interface {
	Save(ctx context.Context, kind, id string, record map[string]any) error
	Get(ctx context.Context, kind, id string) (map[string]any, bool, error)
	Delete(ctx context.Context, kind, id string) error
	List(ctx context.Context, kind string, limit int) ([]map[string]any, error)
}
