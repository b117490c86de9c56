package file

import (
	"path/filepath"
	"strings"
)

// ResolveInDir maps a stored relative path like "outputs/x.mp4" to a file
// directly inside dir. Anything that would escape dir is rejected.
func ResolveInDir(dir, stored string) (string, bool) {
	stored = strings.TrimSpace(stored)
	if dir == "" || stored == "" {
		return "", false
	}
	name := filepath.Base(filepath.Clean(stored))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", false
	}
	return filepath.Join(dir, name), true
}
