// Package debugbundle produces the per-job ZIP export from spec §6: a
// single authorised channel for retrieving a failed (or any) job's full
// detail, since the HTTP layer itself never leaks stack traces to a
// caller (spec §7).
package debugbundle

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/logging"
)

// maxServiceLogLines bounds service_logs/<service>.log per spec §6
// ("last 1000 lines, redacted").
const maxServiceLogLines = 1000

// Request names the job and the on-disk roots Build reads from.
type Request struct {
	Job        jobs.Job
	VolumeRoot string
	LogRoot    string
}

// Build assembles the ZIP bytes for req. metadata.json, the service log
// tail and environment.json are redacted as they are written; events.jsonl
// is copied from the per-job log (redacted when it was logged) and sample
// files are copied as-is. A missing optional source (no service log yet
// written, no samples directory) is treated as "entry absent", never an
// error.
func Build(ctx context.Context, req Request) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	top := req.Job.ID + "/"

	metadata, err := json.MarshalIndent(redactedMetadata(req.Job), "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, top+"metadata.json", metadata); err != nil {
		return nil, err
	}

	events, err := readJobEvents(req.VolumeRoot, req.Job.ID)
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, top+"events.jsonl", events); err != nil {
		return nil, err
	}

	if lines, ok := tailServiceLog(req.LogRoot, "forge"); ok {
		if err := writeEntry(zw, top+"service_logs/forge.log", lines); err != nil {
			return nil, err
		}
	}

	if err := writeSamples(zw, top, req.VolumeRoot, req.Job.ID); err != nil {
		return nil, err
	}

	env, err := json.MarshalIndent(redactedEnvironment(), "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, top+"environment.json", env); err != nil {
		return nil, err
	}

	if err := writeEntry(zw, top+"README.txt", readme(req.Job)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// redactedMetadata is the job record with every string field passed
// through the redactor, since a plugin config may embed a secret (spec
// §8 scenario 6).
func redactedMetadata(job jobs.Job) map[string]any {
	data, err := json.Marshal(job)
	if err != nil {
		return map[string]any{"id": job.ID}
	}
	redacted := logging.RedactJSON(data)
	var m map[string]any
	if err := json.Unmarshal(redacted, &m); err != nil {
		return map[string]any{"id": job.ID}
	}
	return m
}

// readJobEvents reads the per-job JSONL file verbatim: every line was
// already redacted at write time by logging.JobLogger (C2 invariant 4),
// so no second redaction pass is needed here.
func readJobEvents(volumeRoot, jobID string) ([]byte, error) {
	path := filepath.Join(volumeRoot, "logs", "jobs", jobID+".jsonl")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []byte{}, nil
	}
	return data, err
}

// tailServiceLog returns the last maxServiceLogLines of the service's
// current log file, redacted, or ok=false if no such file exists yet.
func tailServiceLog(logRoot, service string) ([]byte, bool) {
	if logRoot == "" {
		return nil, false
	}
	path := filepath.Join(logRoot, service, "latest", service+".log")
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		lines = append(lines, logging.RedactLine(line))
		if len(lines) > maxServiceLogLines {
			lines = lines[1:]
		}
	}
	if sc.Err() != nil && len(lines) == 0 {
		return nil, false
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), true
}

// writeSamples copies every file under
// <volume_root>/artifacts/jobs/<job_id>/samples/ into the bundle as-is
// (binary samples are not redacted; only text logs carry secrets).
func writeSamples(zw *zip.Writer, top, volumeRoot, jobID string) error {
	dir := filepath.Join(volumeRoot, "artifacts", "jobs", jobID, "samples")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if err := writeEntry(zw, top+"samples/"+entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

// redactedEnvironment snapshots os.Environ() through the same redactor
// the log pipeline uses, keyed by variable name.
func redactedEnvironment() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := range kv {
			if kv[i] == '=' {
				out[kv[:i]] = logging.Redact(kv[i+1:])
				break
			}
		}
	}
	return out
}

func readme(job jobs.Job) []byte {
	return []byte(fmt.Sprintf(
		"forge debug bundle\njob_id: %s\ntype: %s\nstatus: %s\ngenerated_at: %s\n\ncontents:\n  metadata.json    - redacted job record\n  events.jsonl     - redacted per-job log\n  service_logs/    - tail of the process service log, redacted\n  samples/         - binary artifacts, unmodified\n  environment.json - redacted environment snapshot\n",
		job.ID, job.Type, job.Status, time.Now().UTC().Format(time.RFC3339),
	))
}
