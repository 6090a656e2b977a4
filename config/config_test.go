package config

import (
	"testing"
)

func TestLoad_AppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("FORGE_VOLUME_ROOT", "/tmp/forge-test-volume")
	s, err := Load("forge")
	if err != nil {
		t.Fatal(err)
	}
	if s.Mode != ModeProduction {
		t.Fatalf("want default mode production, got %q", s.Mode)
	}
	if s.QueueMode != QueueModeInmem {
		t.Fatalf("want default queue mode inmem, got %q", s.QueueMode)
	}
	if s.WorkerConcurrency != 1 {
		t.Fatalf("want default worker concurrency 1, got %d", s.WorkerConcurrency)
	}
	if s.VolumeRoot != "/tmp/forge-test-volume" {
		t.Fatalf("want volume root from env, got %q", s.VolumeRoot)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("FORGE_VOLUME_ROOT", "/tmp/forge-test-volume")
	t.Setenv("FORGE_MODE", "fast-test")
	t.Setenv("FORGE_WORKER_CONCURRENCY", "4")
	s, err := Load("forge")
	if err != nil {
		t.Fatal(err)
	}
	if s.Mode != ModeFastTest {
		t.Fatalf("want mode overridden to fast-test, got %q", s.Mode)
	}
	if s.WorkerConcurrency != 4 {
		t.Fatalf("want worker concurrency overridden to 4, got %d", s.WorkerConcurrency)
	}
}

func TestLoad_RejectsPulseQueueModeWithoutStreamStoreURL(t *testing.T) {
	t.Setenv("FORGE_VOLUME_ROOT", "/tmp/forge-test-volume")
	t.Setenv("FORGE_QUEUE_MODE", "pulse")
	t.Setenv("FORGE_STREAM_STORE_URL", "")
	_, err := Load("forge")
	if err == nil {
		t.Fatal("want validation error when queue_mode=pulse but stream_store_url unset")
	}
}

func TestLoad_AcceptsPulseQueueModeWithStreamStoreURL(t *testing.T) {
	t.Setenv("FORGE_VOLUME_ROOT", "/tmp/forge-test-volume")
	t.Setenv("FORGE_QUEUE_MODE", "pulse")
	t.Setenv("FORGE_STREAM_STORE_URL", "redis://localhost:6379")
	s, err := Load("forge")
	if err != nil {
		t.Fatal(err)
	}
	if s.StreamStoreURL != "redis://localhost:6379" {
		t.Fatalf("want stream store url from env, got %q", s.StreamStoreURL)
	}
}
