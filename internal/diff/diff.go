// Package diff produces and applies the unified diffs that carry worker
// edits from an ephemeral workspace back to the live document.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// FileDiff is the result of comparing two snapshots of one file.
type FileDiff struct {
	Path             string `json:"path"`
	OriginalChecksum string `json:"original_checksum"`
	NewChecksum      string `json:"new_checksum"`
	UnifiedDiff      string `json:"unified_diff"`
	LinesAdded       int    `json:"lines_added"`
	LinesRemoved     int    `json:"lines_removed"`
}

// NewFileDiff builds a FileDiff between two contents of the same file.
// Returns nil when the contents are identical.
func NewFileDiff(path, original, modified string) (*FileDiff, error) {
	originalSum := Checksum(original)
	modifiedSum := Checksum(modified)
	if originalSum == modifiedSum {
		return nil, nil
	}

	// Zero context lines: the hunk header's new-file span is the
	// conflict-detection overlap key, so it must cover exactly the
	// modified lines, and application works by position.
	name := baseName(path)
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(original),
		B:        splitLines(modified),
		FromFile: "original/" + name,
		ToFile:   "workspace/" + name,
		Context:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("generating diff for %s: %w", name, err)
	}

	added, removed := countChanges(unified)

	return &FileDiff{
		Path:             path,
		OriginalChecksum: originalSum,
		NewChecksum:      modifiedSum,
		UnifiedDiff:      unified,
		LinesAdded:       added,
		LinesRemoved:     removed,
	}, nil
}

// ChangedLines returns the total line changes in this file.
func (f *FileDiff) ChangedLines() int {
	return f.LinesAdded + f.LinesRemoved
}

// WorkspaceDiff is the envelope for one worker invocation's changes.
type WorkspaceDiff struct {
	ThreadID  string               `json:"thread_id"`
	MessageID string               `json:"message_id"`
	Timestamp time.Time            `json:"timestamp"`
	Files     map[string]*FileDiff `json:"files"`
}

// NewWorkspaceDiff creates an empty envelope for the given invocation.
func NewWorkspaceDiff(threadID, messageID string) *WorkspaceDiff {
	return &WorkspaceDiff{
		ThreadID:  threadID,
		MessageID: messageID,
		Timestamp: time.Now(),
		Files:     make(map[string]*FileDiff),
	}
}

// Add records a file's diff in the envelope. Nil diffs (unchanged files)
// are ignored.
func (w *WorkspaceDiff) Add(fd *FileDiff) {
	if fd == nil {
		return
	}
	w.Files[fd.Path] = fd
}

// HasChanges reports whether any file changed.
func (w *WorkspaceDiff) HasChanges() bool {
	return len(w.Files) > 0
}

// TotalChangedLines returns the line changes summed across files.
func (w *WorkspaceDiff) TotalChangedLines() int {
	total := 0
	for _, fd := range w.Files {
		total += fd.ChangedLines()
	}
	return total
}

// Checksum returns the hex sha256 of the content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// splitLines splits content into lines keeping line endings. Content is
// normalized to be newline-terminated: a final line without a terminator
// gains one, so diffing and application always round-trip to
// newline-terminated text.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	last := len(lines) - 1
	if lines[last] == "" {
		lines = lines[:last]
	} else {
		lines[last] += "\n"
	}
	return lines
}

// countChanges counts added and removed lines in a unified diff, skipping
// the ---/+++ file headers.
func countChanges(unified string) (added, removed int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
