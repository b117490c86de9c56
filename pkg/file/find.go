package file

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FindStaleEntries lists direct children of dir whose name starts with prefix
// and whose modification time is before cutoff.
func FindStaleEntries(dir string, prefix string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(dir, entry.Name()))
		}
	}
	return stale, nil
}
