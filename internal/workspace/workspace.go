// Package workspace provides ephemeral per-invocation sandboxes.
//
// Each assistant invocation runs against a private copy of the document
// (plus read-only reference files) in a throwaway directory, so worker
// edits can be diffed against a frozen baseline without racing the live
// document. Acquire/Release follow a scoped-acquisition discipline: the
// directory is removed on every exit path unless it was flagged for
// debug preservation.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/soapko/harlowe/internal/diff"
)

// prefix names every workspace directory so orphan sweeps can find them.
const prefix = "harlowe_ws_"

// Info is what a worker gets handed when the workspace is acquired.
type Info struct {
	Dir           string
	File          string
	ResourceFiles []string
}

// Workspace is a single-use sandbox for one (thread, message) invocation.
type Workspace struct {
	sourceFile    string
	threadID      string
	messageID     string
	resourceFiles []string

	dir       string
	info      *Info
	originals map[string]string // source path -> content snapshot
	preserve  bool
	released  bool
}

// New prepares a workspace rooted under root (the OS temp directory when
// empty). Nothing touches the filesystem until Acquire.
//
// The directory name embeds the thread id, message id, a nanosecond
// timestamp, and a random suffix, so two workspaces created in the same
// millisecond for the same thread still get distinct directories.
func New(root, sourceFile, threadID, messageID string, resourceFiles []string) *Workspace {
	if root == "" {
		root = os.TempDir()
	}
	name := fmt.Sprintf("%s%s_%s_%d_%s",
		prefix, threadID, messageID, time.Now().UnixNano(), uuid.NewString()[:8])

	return &Workspace{
		sourceFile:    sourceFile,
		threadID:      threadID,
		messageID:     messageID,
		resourceFiles: resourceFiles,
		dir:           filepath.Join(root, name),
		originals:     make(map[string]string),
	}
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Acquire creates the workspace directory, copies the document and
// resource files into it, and snapshots every copied file's content in
// memory as the diffing baseline.
func (w *Workspace) Acquire() (*Info, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	file, err := w.copyIn(w.sourceFile)
	if err != nil {
		w.Release()
		return nil, err
	}

	var resources []string
	for _, rf := range w.resourceFiles {
		dest, err := w.copyIn(rf)
		if err != nil {
			// Missing reference files are not fatal; the invocation
			// proceeds without them.
			log.Printf("workspace: skipping resource file %s: %v", rf, err)
			continue
		}
		resources = append(resources, dest)
	}

	w.info = &Info{Dir: w.dir, File: file, ResourceFiles: resources}
	return w.info, nil
}

// copyIn copies one source file into the workspace under its basename
// and records its content snapshot.
func (w *Workspace) copyIn(source string) (string, error) {
	content, err := os.ReadFile(source) //nolint:gosec // G304: source files are the user's own
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", source, err)
	}

	dest := filepath.Join(w.dir, filepath.Base(source))
	if err := os.WriteFile(dest, content, 0644); err != nil {
		return "", fmt.Errorf("copying %s into workspace: %w", source, err)
	}

	w.originals[source] = string(content)
	return dest, nil
}

// Diff compares every copied file against its snapshot and returns the
// invocation's WorkspaceDiff. Files deleted in the workspace record no
// change. Callable before or after Release while the directory exists.
func (w *Workspace) Diff() *diff.WorkspaceDiff {
	wd := diff.NewWorkspaceDiff(w.threadID, w.messageID)

	for source, original := range w.originals {
		workspacePath := filepath.Join(w.dir, filepath.Base(source))

		current, err := os.ReadFile(workspacePath) //nolint:gosec // G304: path inside our own workspace
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("workspace: reading %s: %v", workspacePath, err)
			}
			continue
		}

		fd, err := diff.NewFileDiff(source, original, string(current))
		if err != nil {
			log.Printf("workspace: diffing %s: %v", source, err)
			continue
		}
		wd.Add(fd)
	}

	return wd
}

// PreserveForDebug skips the next Release's cleanup exactly once, so a
// failed worker's sandbox can be inspected post-mortem.
func (w *Workspace) PreserveForDebug() {
	w.preserve = true
	log.Printf("workspace: preserving for debugging: %s", w.dir)
}

// Release deletes the workspace directory unless it was flagged for
// preservation. Deletion failures are logged, never raised; the
// surrounding filesystem will reclaim eventually. Idempotent.
func (w *Workspace) Release() {
	if w.released {
		return
	}
	w.released = true

	if w.preserve {
		w.preserve = false // one-shot
		return
	}

	if err := os.RemoveAll(w.dir); err != nil {
		log.Printf("workspace: cleanup failed for %s: %v", w.dir, err)
	}
}
