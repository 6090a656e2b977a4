package interactions

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/embercore/forge/ferrors"
	"github.com/embercore/forge/logging"
)

// Bundle produces a ZIP containing interaction.json (the full record with
// steps) and, when requested, backend_logs.jsonl / worker_logs.jsonl —
// every line under the corresponding log root whose correlation_id or
// context.interaction_id matches this interaction, each passed through
// the redactor. Log roots are walked with filepath.WalkDir rooted at the
// caller-supplied directory; no path outside that root is ever opened.
func (s *Store) Bundle(ctx context.Context, id string, backendLogRoot, workerLogRoot string, includeBackend, includeWorker bool) ([]byte, error) {
	it, ok, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.NotFound("interaction " + id)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "interaction.json", data); err != nil {
		return nil, err
	}

	if includeBackend {
		lines, err := collectMatchingLogLines(backendLogRoot, it.CorrelationID, it.InteractionID)
		if err != nil {
			return nil, err
		}
		if err := writeZipEntry(zw, "backend_logs.jsonl", joinLines(lines)); err != nil {
			return nil, err
		}
	}
	if includeWorker {
		lines, err := collectMatchingLogLines(workerLogRoot, it.CorrelationID, it.InteractionID)
		if err != nil {
			return nil, err
		}
		if err := writeZipEntry(zw, "worker_logs.jsonl", joinLines(lines)); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func joinLines(lines [][]byte) []byte {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// collectMatchingLogLines walks root for *.jsonl and *.log files and returns every
// line (after redaction) whose top-level correlation_id equals
// correlationID, or whose nested context.interaction_id equals
// interactionID.
func collectMatchingLogLines(root, correlationID, interactionID string) ([][]byte, error) {
	if root == "" {
		return nil, nil
	}
	var out [][]byte
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ext := filepath.Ext(path); d.IsDir() || (ext != ".jsonl" && ext != ".log") {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			if !lineMatches(line, correlationID, interactionID) {
				continue
			}
			redacted := logging.RedactLine(line)
			cp := make([]byte, len(redacted))
			copy(cp, redacted)
			out = append(out, cp)
		}
		return sc.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lineMatches(line []byte, correlationID, interactionID string) bool {
	if correlationID == "" && interactionID == "" {
		return false
	}
	var rec struct {
		CorrelationID string `json:"correlation_id"`
		Context       struct {
			InteractionID string `json:"interaction_id"`
		} `json:"context"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return false
	}
	if correlationID != "" && rec.CorrelationID == correlationID {
		return true
	}
	if interactionID != "" && rec.Context.InteractionID == interactionID {
		return true
	}
	return false
}
