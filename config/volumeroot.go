package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveVolumeRoot implements the spec §6 volume_root priority chain:
// explicit FORGE_VOLUME_ROOT env → /runpod-volume/<app> if present →
// /workspace/<app> if present → ./data. "Present" means the parent
// mount point (/runpod-volume or /workspace) exists on disk; forge
// does not require the app subdirectory to pre-exist, only the mount.
func ResolveVolumeRoot(appName string) string {
	if root := os.Getenv("FORGE_VOLUME_ROOT"); root != "" {
		return root
	}
	if dirExists("/runpod-volume") {
		return filepath.Join("/runpod-volume", appName)
	}
	if dirExists("/workspace") {
		return filepath.Join("/workspace", appName)
	}
	return "./data"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// StorageLayout is the fixed set of subdirectories forge maintains
// under volume_root (spec §6).
var StorageLayout = []string{
	"characters",
	"uploads",
	"datasets",
	"synthetic",
	"loras",
	"outputs",
	"cache",
	"logs/jobs",
	"uploaded_loras",
}

// EnsureStorageLayout creates every fixed subdirectory of the storage
// contract under volumeRoot. artifacts/jobs/<job_id>/{samples,checkpoints}
// is created per-job by the executor instead, since job IDs aren't
// known at startup.
func EnsureStorageLayout(volumeRoot string) error {
	for _, dir := range StorageLayout {
		if err := os.MkdirAll(filepath.Join(volumeRoot, dir), 0o755); err != nil {
			return fmt.Errorf("config: ensure storage layout %s: %w", dir, err)
		}
	}
	return nil
}
