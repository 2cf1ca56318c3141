package workspace

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupOrphans removes workspace directories under root older than
// maxAge. Crashed sessions can leave sandboxes behind; this sweep runs at
// startup so they do not accumulate. Returns how many were removed.
func CleanupOrphans(root string, maxAge time.Duration) int {
	if root == "" {
		root = os.TempDir()
	}

	cutoff := time.Now().Add(-maxAge)
	count := 0

	for _, dir := range ListActive(root) {
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("workspace: failed to clean up orphan %s: %v", dir, err)
			continue
		}
		count++
	}

	return count
}

// ListActive returns all Harlowe workspace directories under root.
func ListActive(root string) []string {
	if root == "" {
		root = os.TempDir()
	}

	matches, err := filepath.Glob(filepath.Join(root, prefix+"*"))
	if err != nil {
		return nil
	}

	var dirs []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.IsDir() {
			continue
		}
		if !strings.HasPrefix(filepath.Base(match), prefix) {
			continue
		}
		dirs = append(dirs, match)
	}
	return dirs
}

// Size returns the total size in bytes of a workspace directory.
func Size(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort accounting
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
