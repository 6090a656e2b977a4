package httpapi

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/embercore/forge/debugbundle"
	"github.com/embercore/forge/ferrors"
)

// registerObservabilityRoutes wires the /api/jobs/{id}/... family from
// spec §6: raw/viewable per-job logs, artifact listing and sample
// serving, a generic progress stream, the debug bundle export, and a
// summary view. All five are job-type-agnostic; they resolve by ID alone.
func registerObservabilityRoutes(r *mux.Router, deps Deps) {
	r.HandleFunc("/api/jobs/{id}/logs", jobLogsRaw(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/logs/view", jobLogsView(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/artifacts", jobArtifacts(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/artifacts/samples/{name}", jobArtifactSample(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/stream", streamJob(deps, "")).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/debug-bundle", jobDebugBundle(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/summary", jobSummary(deps)).Methods(http.MethodGet)
}

func jobLogPath(volumeRoot, jobID string) string {
	return filepath.Join(volumeRoot, "logs", "jobs", jobID+".jsonl")
}

// jobLogsRaw streams the per-job JSONL file byte-for-byte (already
// redacted at write time, per C2 invariant 4).
func jobLogsRaw(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		f, err := os.Open(jobLogPath(deps.VolumeRoot, id))
		if err != nil {
			writeError(w, ferrors.NotFound("logs for job "+id))
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.Copy(w, f)
	}
}

// jobLogsView parses the per-job JSONL file into a JSON array for
// frontend rendering.
func jobLogsView(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		f, err := os.Open(jobLogPath(deps.VolumeRoot, id))
		if err != nil {
			writeError(w, ferrors.NotFound("logs for job "+id))
			return
		}
		defer f.Close()

		var lines []json.RawMessage
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			if len(line) == 0 {
				continue
			}
			lines = append(lines, json.RawMessage(line))
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "lines": lines})
	}
}

func jobArtifacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, ok, err := deps.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("job "+id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"output_path":  job.OutputPath,
			"output_paths": job.OutputPaths,
		})
	}
}

// jobArtifactSample serves one sample file out of
// <volume_root>/artifacts/jobs/<id>/samples/<name>. name is taken through
// mux.Vars, then re-cleaned with filepath.Base so a path-traversal
// attempt (e.g. "../../etc/passwd") can never escape the samples
// directory.
func jobArtifactSample(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id, name := vars["id"], filepath.Base(vars["name"])
		path := filepath.Join(deps.VolumeRoot, "artifacts", "jobs", id, "samples", name)
		f, err := os.Open(path)
		if err != nil {
			writeError(w, ferrors.NotFound("sample "+name))
			return
		}
		defer f.Close()
		modTime := time.Time{}
		if info, err := f.Stat(); err == nil {
			modTime = info.ModTime()
		}
		http.ServeContent(w, r, name, modTime, f)
	}
}

func jobDebugBundle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, ok, err := deps.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("job "+id))
			return
		}
		data, err := debugbundle.Build(r.Context(), debugbundle.Request{
			Job:        job,
			VolumeRoot: deps.VolumeRoot,
			LogRoot:    deps.LogRoot,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`-debug-bundle.zip"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func jobSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, ok, err := deps.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("job "+id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":            job.ID,
			"type":          job.Type,
			"status":        job.Status,
			"progress":      job.Progress,
			"created_at":    job.CreatedAt,
			"started_at":    job.StartedAt,
			"completed_at":  job.CompletedAt,
			"error_message": job.ErrorMessage,
		})
	}
}
