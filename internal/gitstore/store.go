// Package gitstore provides the git-backed version store for Harlowe.
//
// Every merge of assistant changes into the live document is recorded as
// a commit attributable to its thread, which is what makes undo/redo and
// conflict-aware reverts possible. If the document lives inside an
// existing repository that repository is reused; otherwise a fresh one is
// initialized in a hidden .harlowe directory next to the document and the
// document is mirrored into it on each commit.
package gitstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/soapko/harlowe/internal/util"
)

// Deadlines for git subprocesses. Every call is bounded: a stuck git
// invocation (index lock contention, a hook blocking on stdin) runs
// inside the merge gate and must not hang the core.
const (
	// quickTimeout bounds availability checks, config, add, tag, and
	// rev-parse calls.
	quickTimeout = 5 * time.Second
	// initTimeout bounds repository initialization.
	initTimeout = 10 * time.Second
	// commandTimeout bounds commits, reverts, and log reads.
	commandTimeout = 30 * time.Second
)

// gitRun runs a git command in dir under a deadline.
func gitRun(dir string, timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return util.ExecRunContext(ctx, dir, "git", args...)
}

// gitOutput runs a git command in dir under a deadline and returns its
// stdout.
func gitOutput(dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return util.ExecWithOutputContext(ctx, dir, "git", args...)
}

// RevertStatus classifies the outcome of a revert.
type RevertStatus string

const (
	// RevertOK means the revert was committed.
	RevertOK RevertStatus = "success"
	// RevertConflict means the revert would conflict; it was aborted and
	// the working tree is unchanged.
	RevertConflict RevertStatus = "conflict"
	// RevertError means the revert failed for another reason.
	RevertError RevertStatus = "error"
	// RevertNotAvailable means git is unavailable for this document.
	RevertNotAvailable RevertStatus = "not_available"
)

// Metadata is the thread attribution parsed from a commit message.
type Metadata struct {
	Message       string
	ThreadID      string
	LinesAffected string
}

// CommitInfo describes one commit in the store's history.
type CommitInfo struct {
	Hash          string
	Timestamp     time.Time
	Message       string
	ThreadID      string
	LinesAffected string
	IsMerge       bool
	IsRevert      bool
}

const (
	// commitPrefix starts every Harlowe merge commit message.
	commitPrefix = "harlowe: Thread "
	// sessionPrefix starts every session checkpoint message.
	sessionPrefix = "harlowe: session checkpoint - "
)

// Store wraps a git repository local to one document.
//
// Every operation degrades rather than fails: subprocess errors map to
// empty results or status values, and no operation ever leaves a
// half-completed revert in place.
type Store struct {
	documentPath string
	harloweDir   string
	repoPath     string // empty when git is unavailable
	gitFound     bool
}

// NewStore initializes a Store for the given document. The repository
// choice (host repo vs .harlowe) is made once here and holds for the
// session.
func NewStore(documentPath string) *Store {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		abs = documentPath
	}

	s := &Store{
		documentPath: abs,
		harloweDir:   filepath.Join(filepath.Dir(abs), ".harlowe"),
	}
	s.gitFound = checkGitAvailable()
	if s.gitFound {
		s.repoPath = s.findOrInitRepo()
	}
	return s
}

// Available reports whether version control is usable for this document.
func (s *Store) Available() bool {
	return s.gitFound && s.repoPath != ""
}

// RepoPath returns the repository root, empty when unavailable.
func (s *Store) RepoPath() string {
	return s.repoPath
}

func checkGitAvailable() bool {
	_, err := gitOutput("", quickTimeout, "--version")
	return err == nil
}

// findOrInitRepo locates the enclosing repository, or initializes a fresh
// one inside .harlowe with a pre-configured identity.
func (s *Store) findOrInitRepo() string {
	// Document inside an existing repo?
	if top, err := gitOutput(filepath.Dir(s.documentPath), quickTimeout, "rev-parse", "--show-toplevel"); err == nil && top != "" {
		return top
	}

	// No enclosing repo: create .harlowe and init there.
	if err := os.MkdirAll(s.harloweDir, 0755); err != nil {
		return ""
	}
	if err := gitRun(s.harloweDir, initTimeout, "init"); err != nil {
		return ""
	}
	_ = gitRun(s.harloweDir, quickTimeout, "config", "user.name", "Harlowe")
	_ = gitRun(s.harloweDir, quickTimeout, "config", "user.email", "harlowe@local")
	return s.harloweDir
}

// mirrored reports whether the document is mirrored into .harlowe rather
// than tracked in a host repository.
func (s *Store) mirrored() bool {
	return s.repoPath == s.harloweDir
}

// ensureFileTracked stages the document, mirroring it into .harlowe first
// when no host repository exists.
func (s *Store) ensureFileTracked() {
	if s.repoPath == "" {
		return
	}

	if s.mirrored() {
		content, err := os.ReadFile(s.documentPath) //nolint:gosec // G304: the document being edited
		if err != nil {
			return
		}
		mirror := filepath.Join(s.harloweDir, filepath.Base(s.documentPath))
		existing, err := os.ReadFile(mirror) //nolint:gosec // G304: path inside .harlowe
		if err != nil || string(existing) != string(content) {
			if err := os.WriteFile(mirror, content, 0644); err != nil {
				return
			}
		}
		_ = gitRun(s.repoPath, quickTimeout, "add", mirror)
		return
	}

	// Host repo: stage the document directly; it may sit outside the
	// repo, which is tolerated.
	_ = gitRun(s.repoPath, quickTimeout, "add", s.documentPath)
}

// Checkpoint creates a session checkpoint commit, tagged
// harlowe/session/<timestamp>. Returns the commit hash, or empty when the
// store is unavailable or the commit failed.
func (s *Store) Checkpoint() string {
	if !s.Available() {
		return ""
	}

	s.ensureFileTracked()

	now := time.Now()
	message := sessionPrefix + now.Format("2006-01-02 15:04:05")
	if err := gitRun(s.repoPath, commandTimeout, "commit", "-m", message, "--allow-empty"); err != nil {
		return ""
	}

	hash, err := gitOutput(s.repoPath, quickTimeout, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}

	// Tag creation is best-effort.
	tag := "harlowe/session/" + now.Format("20060102-150405")
	_ = gitRun(s.repoPath, quickTimeout, "tag", tag)

	return hash
}

// CommitMerge commits a thread's merged changes. The commit message
// encodes the thread id on the first line and the affected lines as a
// trailer, which Metadata and History parse back out. Returns the commit
// hash, or empty on failure.
func (s *Store) CommitMerge(threadID, message string, files []string, linesAffected string) string {
	if !s.Available() {
		return ""
	}

	s.ensureFileTracked()
	for _, file := range files {
		_ = gitRun(s.repoPath, quickTimeout, "add", file)
	}

	commitMsg := commitPrefix + threadID + " - " + message
	if linesAffected != "" {
		commitMsg += "\nLines: " + linesAffected
	}

	if err := gitRun(s.repoPath, commandTimeout, "commit", "-m", commitMsg, "--allow-empty"); err != nil {
		return ""
	}

	hash, err := gitOutput(s.repoPath, quickTimeout, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return hash
}

// CanRevertCleanly tests whether a commit reverts without conflicts. The
// dry revert is aborted on both outcomes, leaving the working tree
// unchanged.
func (s *Store) CanRevertCleanly(hash string) bool {
	if !s.Available() {
		return false
	}

	_, revertErr := gitOutput(s.repoPath, commandTimeout, "revert", "--no-commit", hash)

	// Restore the working tree regardless of outcome.
	_ = gitRun(s.repoPath, commandTimeout, "revert", "--abort")

	return revertErr == nil
}

// Revert undoes a commit via git revert. On conflict the revert is
// aborted before returning, so the working tree never holds conflict
// markers.
func (s *Store) Revert(hash string) (string, RevertStatus) {
	if !s.Available() {
		return "", RevertNotAvailable
	}

	out, err := gitOutput(s.repoPath, commandTimeout, "revert", "--no-edit", hash)
	if err != nil {
		combined := strings.ToLower(out + " " + err.Error())
		if strings.Contains(combined, "conflict") {
			_ = gitRun(s.repoPath, commandTimeout, "revert", "--abort")
			return "", RevertConflict
		}
		return "", RevertError
	}

	newHash, err := gitOutput(s.repoPath, quickTimeout, "rev-parse", "HEAD")
	if err != nil {
		return "", RevertError
	}

	// In the mirrored layout the revert changed the .harlowe copy; the
	// live document must follow.
	s.syncMirrorBack()

	return newHash, RevertOK
}

// syncMirrorBack copies the mirrored document back over the live one
// after a revert rewrote it.
func (s *Store) syncMirrorBack() {
	if !s.mirrored() {
		return
	}
	mirror := filepath.Join(s.harloweDir, filepath.Base(s.documentPath))
	content, err := os.ReadFile(mirror) //nolint:gosec // G304: path inside .harlowe
	if err != nil {
		return
	}
	_ = os.WriteFile(s.documentPath, content, 0644)
}

// MetadataFor extracts thread attribution from a commit message.
func (s *Store) MetadataFor(hash string) (Metadata, bool) {
	if !s.Available() {
		return Metadata{}, false
	}

	message, err := gitOutput(s.repoPath, commandTimeout, "log", "-1", "--format=%B", hash)
	if err != nil {
		return Metadata{}, false
	}

	meta := Metadata{Message: message}
	meta.ThreadID, meta.LinesAffected = parseThreadTrailer(message)
	return meta, true
}

// History lists recent commits, newest first. Malformed entries are
// skipped.
func (s *Store) History(limit int) []CommitInfo {
	if !s.Available() {
		return nil
	}

	// Null-byte delimiter separates full multi-line messages.
	out, err := gitOutput(s.repoPath, commandTimeout, "log",
		fmt.Sprintf("-%d", limit), "--format=%H|%ct|%B%x00")
	if err != nil {
		return nil
	}

	var commits []CommitInfo
	for _, entry := range strings.Split(out, "\x00") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if info, ok := parseLogEntry(entry); ok {
			commits = append(commits, info)
		}
	}
	return commits
}

// parseLogEntry parses one "hash|timestamp|message" log entry; the
// message may span lines.
func parseLogEntry(entry string) (CommitInfo, bool) {
	parts := strings.SplitN(entry, "|", 3)
	if len(parts) < 3 {
		return CommitInfo{}, false
	}

	epoch, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return CommitInfo{}, false
	}

	message := parts[2]
	info := CommitInfo{
		Hash:      parts[0],
		Timestamp: time.Unix(epoch, 0),
		Message:   message,
	}

	if strings.Contains(message, commitPrefix) {
		info.IsMerge = true
		info.ThreadID, info.LinesAffected = parseThreadTrailer(message)
	}
	if strings.HasPrefix(message, "Revert ") {
		info.IsRevert = true
	}

	return info, true
}

// parseThreadTrailer pulls the thread id and Lines trailer out of a
// Harlowe commit message. Unrecognized messages parse as plain commits
// with no thread metadata.
func parseThreadTrailer(message string) (threadID, linesAffected string) {
	if rest, found := strings.CutPrefix(message, commitPrefix); found {
		if fields := strings.Fields(rest); len(fields) > 0 {
			threadID = fields[0]
		}
	}
	if _, after, found := strings.Cut(message, "\nLines: "); found {
		linesAffected = strings.TrimSpace(strings.SplitN(after, "\n", 2)[0])
	}
	return threadID, linesAffected
}
