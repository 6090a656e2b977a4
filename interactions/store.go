package interactions

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/embercore/forge/ferrors"
	"github.com/embercore/forge/logging"
)

// MaxInteractions bounds the secondary index (spec §4.6); the oldest
// entries, and their underlying interaction files, are evicted past it.
const MaxInteractions = 1000

// Filters narrows List results. A zero-value field means "unfiltered."
type Filters struct {
	ActionName string
	Status     Status
	Since      *time.Time
	Until      *time.Time
}

// Pagination bounds a List call; Limit <= 0 defaults to 50.
type Pagination struct {
	Limit  int
	Offset int
}

// Store is the filesystem-backed C6 implementation: one JSONL file per
// interaction under <root>/interactions/, plus a sorted secondary index
// under <root>/index/interactions.jsonl.
//
// A single mutex serializes every mutating call. Interaction volume is
// low relative to job/progress traffic, and the spec's invariants
// (idempotent create, additive append, index eviction) are far easier to
// keep correct under one lock than under a lock-per-file scheme.
type Store struct {
	root string
	mu   sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "interactions"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, "index"), 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) interactionPath(id string) string {
	return filepath.Join(s.root, "interactions", id+".jsonl")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, "index", "interactions.jsonl")
}

// CreateInteraction creates a new interaction, or returns the existing
// record unchanged if id already exists (idempotent per spec §4.6).
func (s *Store) CreateInteraction(ctx context.Context, in Interaction) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.readInteraction(in.InteractionID)
	if err != nil {
		return Interaction{}, err
	}
	if ok {
		return existing, nil
	}

	if in.Status == "" {
		in.Status = StatusRunning
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now().UTC()
	}
	in.StepCount = len(in.Steps)
	for _, step := range in.Steps {
		if step.Status == StatusError {
			in.ErrorCount++
		}
	}

	if err := s.writeInteractionFile(in, in.Steps); err != nil {
		return Interaction{}, err
	}
	if err := s.upsertIndex(in); err != nil {
		return Interaction{}, err
	}
	return in.clone(), nil
}

// AppendSteps appends steps to id, redacting each step's Details and
// updating step_count/error_count. Always additive.
func (s *Store) AppendSteps(ctx context.Context, id string, steps []Step) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hdr, existing, ok, err := s.readFull(id)
	if err != nil {
		return Interaction{}, err
	}
	if !ok {
		return Interaction{}, ferrors.NotFound("interaction " + id)
	}

	for i := range steps {
		steps[i].InteractionID = id
		if steps[i].Timestamp.IsZero() {
			steps[i].Timestamp = time.Now().UTC()
		}
		steps[i].Details = redactDetails(steps[i].Details)
		if steps[i].Status == StatusError {
			hdr.ErrorCount++
		}
	}

	all := append(existing, steps...)
	hdr.StepCount = len(all)

	if err := s.writeInteractionFile(hdr, all); err != nil {
		return Interaction{}, err
	}
	if err := s.upsertIndex(hdr); err != nil {
		return Interaction{}, err
	}
	hdr.Steps = all
	return hdr.clone(), nil
}

// Complete marks id terminal with status and an optional error summary,
// computing duration_ms from started_at/ended_at.
func (s *Store) Complete(ctx context.Context, id string, status Status, errorSummary string) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hdr, steps, ok, err := s.readFull(id)
	if err != nil {
		return Interaction{}, err
	}
	if !ok {
		return Interaction{}, ferrors.NotFound("interaction " + id)
	}

	now := time.Now().UTC()
	hdr.EndedAt = &now
	hdr.Status = status
	hdr.ErrorSummary = errorSummary
	if !hdr.StartedAt.IsZero() {
		d := now.Sub(hdr.StartedAt).Milliseconds()
		hdr.DurationMS = &d
	}

	if err := s.writeInteractionFile(hdr, steps); err != nil {
		return Interaction{}, err
	}
	if err := s.upsertIndex(hdr); err != nil {
		return Interaction{}, err
	}
	hdr.Steps = steps
	return hdr.clone(), nil
}

// Get returns the full interaction (header + steps), or ok=false if
// absent.
func (s *Store) Get(ctx context.Context, id string) (Interaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hdr, steps, ok, err := s.readFull(id)
	if err != nil || !ok {
		return Interaction{}, ok, err
	}
	hdr.Steps = steps
	return hdr.clone(), true, nil
}

// Delete removes id's file and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.interactionPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.removeFromIndex(id)
}

// List returns a filtered, paginated slice of interaction headers (no
// steps — list is a summary view), newest-first.
func (s *Store) List(ctx context.Context, filters Filters, page Pagination) (items []Interaction, total int, hasMore bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readIndex()
	if err != nil {
		return nil, 0, false, err
	}

	filtered := make([]Interaction, 0, len(all))
	for _, it := range all {
		if filters.ActionName != "" && it.ActionName != filters.ActionName {
			continue
		}
		if filters.Status != "" && it.Status != filters.Status {
			continue
		}
		if filters.Since != nil && it.StartedAt.Before(*filters.Since) {
			continue
		}
		if filters.Until != nil && it.StartedAt.After(*filters.Until) {
			continue
		}
		filtered = append(filtered, it)
	}

	total = len(filtered)
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := page.Offset
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, end < len(filtered), nil
}

// Cleanup evicts every interaction whose started_at is older than
// now - retentionDays, from both the index and disk, returning the
// number removed.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	all, err := s.readIndex()
	if err != nil {
		return 0, err
	}

	kept := make([]Interaction, 0, len(all))
	removed := 0
	for _, it := range all {
		if it.StartedAt.Before(cutoff) {
			if err := os.Remove(s.interactionPath(it.InteractionID)); err != nil && !os.IsNotExist(err) {
				return removed, err
			}
			removed++
			continue
		}
		kept = append(kept, it)
	}
	if err := s.writeIndex(kept); err != nil {
		return removed, err
	}
	return removed, nil
}

func redactDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	red, ok := logging.RedactValue(details).(map[string]any)
	if !ok {
		return details
	}
	return red
}

// --- file I/O ---

type record struct {
	RecordType string `json:"_type"`
}

func (s *Store) readInteraction(id string) (Interaction, bool, error) {
	hdr, _, ok, err := s.readFull(id)
	return hdr, ok, err
}

// readFull reads id's file, returning the header (without Steps set) and
// its accumulated steps separately.
func (s *Store) readFull(id string) (Interaction, []Step, bool, error) {
	f, err := os.Open(s.interactionPath(id))
	if os.IsNotExist(err) {
		return Interaction{}, nil, false, nil
	}
	if err != nil {
		return Interaction{}, nil, false, err
	}
	defer f.Close()

	var hdr Interaction
	var steps []Step
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip a corrupt line rather than fail the whole read
		}
		if first && rec.RecordType != "step" {
			if err := json.Unmarshal(line, &hdr); err != nil {
				return Interaction{}, nil, false, err
			}
			first = false
			continue
		}
		first = false
		var step Step
		if err := json.Unmarshal(line, &step); err != nil {
			continue
		}
		steps = append(steps, step)
	}
	if err := sc.Err(); err != nil {
		return Interaction{}, nil, false, err
	}
	return hdr, steps, true, nil
}

// writeInteractionFile rewrites id's file atomically: header line first,
// then every step line, in order. This realizes "header rewritten in
// place, steps append-only" as a single atomic replace rather than an
// in-place byte patch, since JSONL has no stable line-addressable offset
// once line lengths change.
func (s *Store) writeInteractionFile(hdr Interaction, steps []Step) error {
	tmp := s.interactionPath(hdr.InteractionID) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	hdrOut := hdr
	hdrOut.Steps = nil
	hdrLine, err := marshalWithType(hdrOut, "interaction")
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := w.Write(hdrLine); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for _, step := range steps {
		line, err := marshalWithType(step, "step")
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := w.Write(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.interactionPath(hdr.InteractionID))
}

func marshalWithType(v any, recordType string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["_type"] = recordType
	return json.Marshal(m)
}

func (s *Store) readIndex() ([]Interaction, error) {
	f, err := os.Open(s.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Interaction
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var it Interaction
		if err := json.Unmarshal(line, &it); err != nil {
			continue
		}
		out = append(out, it)
	}
	return out, sc.Err()
}

func (s *Store) writeIndex(items []Interaction) error {
	sort.SliceStable(items, func(i, j int) bool { return items[i].StartedAt.After(items[j].StartedAt) })
	if len(items) > MaxInteractions {
		for _, evicted := range items[MaxInteractions:] {
			_ = os.Remove(s.interactionPath(evicted.InteractionID))
		}
		items = items[:MaxInteractions]
	}

	tmp := s.indexPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, it := range items {
		it.Steps = nil
		data, err := json.Marshal(it)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := w.Write(data); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.indexPath())
}

func (s *Store) upsertIndex(hdr Interaction) error {
	all, err := s.readIndex()
	if err != nil {
		return err
	}
	out := make([]Interaction, 0, len(all)+1)
	for _, it := range all {
		if it.InteractionID == hdr.InteractionID {
			continue
		}
		out = append(out, it)
	}
	hdrCopy := hdr
	hdrCopy.Steps = nil
	out = append(out, hdrCopy)
	return s.writeIndex(out)
}

func (s *Store) removeFromIndex(id string) error {
	all, err := s.readIndex()
	if err != nil {
		return err
	}
	out := make([]Interaction, 0, len(all))
	for _, it := range all {
		if it.InteractionID != id {
			out = append(out, it)
		}
	}
	return s.writeIndex(out)
}
