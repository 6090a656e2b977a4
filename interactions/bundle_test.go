package interactions

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeLogFile(t *testing.T, dir, name string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_Bundle_IncludesMatchingLogLinesOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateInteraction(ctx, Interaction{InteractionID: "bi1", CorrelationID: "corr-1", ActionName: "generate_image"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.AppendSteps(ctx, "bi1", []Step{{StepID: "s1", Message: "ok", Status: StatusSuccess}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Complete(ctx, "bi1", StatusSuccess, "")
	if err != nil {
		t.Fatal(err)
	}

	backendRoot := filepath.Join(t.TempDir(), "backend")
	writeLogFile(t, backendRoot, "service.jsonl", []string{
		`{"correlation_id":"corr-1","msg":"matches by correlation id"}`,
		`{"correlation_id":"corr-other","msg":"does not match"}`,
		`{"context":{"interaction_id":"bi1"},"msg":"matches by interaction id"}`,
	})
	workerRoot := filepath.Join(t.TempDir(), "worker")
	writeLogFile(t, workerRoot, "worker.jsonl", []string{
		`{"correlation_id":"corr-1","msg":"worker line matches"}`,
	})

	data, err := s.Bundle(ctx, "bi1", backendRoot, workerRoot, true, true)
	if err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	if _, ok := names["interaction.json"]; !ok {
		t.Fatal("want interaction.json in bundle")
	}

	backendFile, ok := names["backend_logs.jsonl"]
	if !ok {
		t.Fatal("want backend_logs.jsonl in bundle")
	}
	rc, err := backendFile.Open()
	if err != nil {
		t.Fatal(err)
	}
	buf := new(bytes.Buffer)
	buf.ReadFrom(rc)
	rc.Close()
	content := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("matches by correlation id")) {
		t.Fatalf("want matching correlation line present, got: %s", content)
	}
	if !bytes.Contains(buf.Bytes(), []byte("matches by interaction id")) {
		t.Fatalf("want matching interaction_id line present, got: %s", content)
	}
	if bytes.Contains(buf.Bytes(), []byte("does not match")) {
		t.Fatalf("want non-matching line excluded, got: %s", content)
	}

	workerFile, ok := names["worker_logs.jsonl"]
	if !ok {
		t.Fatal("want worker_logs.jsonl in bundle")
	}
	wrc, err := workerFile.Open()
	if err != nil {
		t.Fatal(err)
	}
	wbuf := new(bytes.Buffer)
	wbuf.ReadFrom(wrc)
	wrc.Close()
	if !bytes.Contains(wbuf.Bytes(), []byte("worker line matches")) {
		t.Fatalf("want worker log line present, got: %s", wbuf.String())
	}
}

func TestStore_Bundle_UnknownInteractionErrors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Bundle(context.Background(), "nope", "", "", false, false)
	if err == nil {
		t.Fatal("want error for unknown interaction")
	}
}
