package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/MimeLyc/storyclip/pkg/file"
	"github.com/MimeLyc/storyclip/pkg/log"
)

const scratchPrefix = "y2s-"

// newScratchDir creates a job-exclusive working directory. The returned
// release func removes it and is safe to call more than once.
func newScratchDir(root string) (string, func(), error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, scratchPrefix+"*")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	release := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error("Failed to remove scratch dir %s: %v", dir, err)
		}
	}
	return dir, release, nil
}

// keepScratchAlive bumps the mtime of a scratch dir in use so SweepScratch
// does not treat it as stale.
func keepScratchAlive(dir string) {
	if dir == "" {
		return
	}
	now := time.Now()
	if err := os.Chtimes(dir, now, now); err != nil {
		log.Warn("Failed to touch scratch dir %s: %v", dir, err)
	}
}

// SweepScratch removes scratch directories older than maxAge, left behind
// by processes that died before their cleanup ran.
func SweepScratch(root string, maxAge time.Duration) (int, error) {
	if root == "" {
		root = os.TempDir()
	}
	stale, err := file.FindStaleEntries(root, scratchPrefix, time.Now().Add(-maxAge))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			log.Error("Failed to sweep scratch dir %s: %v", dir, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("Swept %d stale scratch dirs from %s", removed, root)
	}
	return removed, nil
}
