package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveVolumeRoot_EnvTakesPriority(t *testing.T) {
	t.Setenv("FORGE_VOLUME_ROOT", "/custom/root")
	if got := ResolveVolumeRoot("forge"); got != "/custom/root" {
		t.Fatalf("want env override, got %q", got)
	}
}

func TestResolveVolumeRoot_FallsBackToDataWhenNoMountsPresent(t *testing.T) {
	t.Setenv("FORGE_VOLUME_ROOT", "")
	// /runpod-volume and /workspace are assumed absent in the test
	// sandbox; this exercises the final fallback link in the chain.
	if dirExists("/runpod-volume") || dirExists("/workspace") {
		t.Skip("test sandbox has a /runpod-volume or /workspace mount, chain would resolve earlier")
	}
	if got := ResolveVolumeRoot("forge"); got != "./data" {
		t.Fatalf("want ./data fallback, got %q", got)
	}
}

func TestEnsureStorageLayout_CreatesFixedSubdirectories(t *testing.T) {
	root := t.TempDir()
	if err := EnsureStorageLayout(root); err != nil {
		t.Fatal(err)
	}
	for _, dir := range StorageLayout {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil {
			t.Fatalf("want %s created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("want %s to be a directory", dir)
		}
	}
}
