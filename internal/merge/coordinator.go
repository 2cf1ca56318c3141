// Package merge provides the coordinator that serializes worker-produced
// diffs into the live document.
//
// The coordinator is the system's linearization point: all document
// writes and all version-store commits happen inside its gate, so
// concurrent workers can finish in any order without interleaving
// half-applied changes.
package merge

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/soapko/harlowe/internal/diff"
	"github.com/soapko/harlowe/internal/gitstore"
	"github.com/soapko/harlowe/internal/sessionlog"
	"github.com/soapko/harlowe/internal/thread"
)

// Status of a pending merge.
type Status string

const (
	StatusPending    Status = "pending"
	StatusMerged     Status = "merged"
	StatusConflicted Status = "conflicted"
	StatusResolving  Status = "resolving"
	StatusFailed     Status = "failed"
)

// Severity classifies how serious a conflict is.
type Severity int

const (
	// SeverityMinor is adjacency or a small overlap.
	SeverityMinor Severity = iota
	// SeverityMajor is an overlap of more than five lines.
	SeverityMajor
	// SeverityBlocking means both changes hit exactly the same range.
	SeverityBlocking
)

// String renders the severity for status messages.
func (s Severity) String() string {
	switch s {
	case SeverityBlocking:
		return "blocking"
	case SeverityMajor:
		return "major"
	default:
		return "minor"
	}
}

// PendingMerge is a merge staged in the coordinator.
type PendingMerge struct {
	ThreadID  string
	MessageID string
	Timestamp time.Time
	Diff      *diff.WorkspaceDiff
	Ranges    []diff.LineRange
	Status    Status
}

// Conflict records an overlap between two merges.
type Conflict struct {
	MergeA   *PendingMerge
	MergeB   *PendingMerge
	Pairs    [][2]diff.LineRange
	Severity Severity
}

// ThreadHost is the capability the coordinator needs from the thread
// manager: posting status annotations and spawning resolution threads.
// Held as an interface handle to avoid mutual owning pointers.
type ThreadHost interface {
	// PostStatus appends a system message to the thread and notifies
	// UI subscribers.
	PostStatus(t *thread.Thread, text string)

	// SpawnResolutionThread creates a system-owned thread carrying the
	// conflict narrative and adds it to the thread list.
	SpawnResolutionThread(context string, metadata map[string]interface{}) *thread.Thread
}

// Coordinator serializes merges of workspace diffs into the live
// document.
type Coordinator struct {
	mu sync.Mutex // the gate: all state and document mutation happens under it

	store        *gitstore.Store
	documentPath string
	logger       *sessionlog.Logger
	host         ThreadHost

	pending []*PendingMerge
}

// New creates a Coordinator for the given document.
func New(store *gitstore.Store, documentPath string, logger *sessionlog.Logger) *Coordinator {
	return &Coordinator{
		store:        store,
		documentPath: documentPath,
		logger:       logger,
	}
}

// SetHost installs the thread-manager capability. Called once at wiring
// time; the manager holds the coordinator, so the back edge is set after
// both exist.
func (c *Coordinator) SetHost(h ThreadHost) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = h
}

// Serialize runs fn inside the coordinator's gate. The undo engine uses
// this so reverts and merges cannot interleave.
func (c *Coordinator) Serialize(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// QueueMerge stages a thread's workspace diff: clean merges are applied
// and committed, conflicting merges are retained and escalated to a
// resolution thread. At most one QueueMerge body executes at a time.
func (c *Coordinator) QueueMerge(t *thread.Thread, wd *diff.WorkspaceDiff) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ranges, parseErr := parseRanges(wd)
	merge := &PendingMerge{
		ThreadID:  wd.ThreadID,
		MessageID: wd.MessageID,
		Timestamp: time.Now(),
		Diff:      wd,
		Ranges:    ranges,
		Status:    StatusPending,
	}

	if parseErr != nil {
		merge.Status = StatusFailed
		c.pending = append(c.pending, merge)
		c.postStatus(t, fmt.Sprintf("⚠️ Could not read changes: %v", parseErr))
		c.logEvent(sessionlog.EventMergeFailed, t.ID, parseErr.Error())
		return
	}

	conflicts := c.detectConflicts(merge)

	if len(conflicts) == 0 {
		if c.applyMerge(merge, t) {
			merge.Status = StatusMerged
			// Retained as MERGED for audit: later concurrent merges
			// that overlap a just-landed change must conflict rather
			// than silently overwrite it. ClearCompleted drops them.
			c.pending = append(c.pending, merge)
			c.postStatus(t, "Changes merged successfully")
			c.logEvent(sessionlog.EventMerge, t.ID, "")
		} else {
			merge.Status = StatusFailed
			c.pending = append(c.pending, merge)
			c.postStatus(t, "⚠️ Merge failed - file may have changed")
			c.logEvent(sessionlog.EventMergeFailed, t.ID, "")
		}
		return
	}

	// Conflicts: stage and escalate, never apply.
	merge.Status = StatusConflicted
	c.pending = append(c.pending, merge)

	if c.host != nil {
		narrative := buildConflictNarrative(merge, conflicts)
		meta := map[string]interface{}{
			thread.MetaIsSystemThread: true,
			thread.MetaConflictsWith:  conflictThreadIDs(merge, conflicts),
		}
		c.host.SpawnResolutionThread(narrative, meta)
	}

	peers := ""
	for i, conflict := range conflicts {
		if i > 0 {
			peers += ", "
		}
		peers += shortID(conflict.MergeB.ThreadID)
	}
	c.postStatus(t, fmt.Sprintf("⚠️ Conflict detected with %s. Resolution needed.", peers))
	c.logEvent(sessionlog.EventConflict, t.ID, "with "+peers)
}

// parseRanges extracts line ranges from every file diff. A file whose
// diff has content but no parseable hunks is a malformed diff.
func parseRanges(wd *diff.WorkspaceDiff) ([]diff.LineRange, error) {
	var ranges []diff.LineRange
	for path, fd := range wd.Files {
		fileRanges := fd.Ranges()
		if len(fileRanges) == 0 && fd.UnifiedDiff != "" {
			return nil, fmt.Errorf("no hunks found in diff for %s", path)
		}
		ranges = append(ranges, fileRanges...)
	}
	return ranges, nil
}

// detectConflicts scans retained merges for line-range overlaps.
// PENDING merges are in-flight peers; MERGED merges are retained
// recently-landed changes that a concurrent edit to the same span must
// not overwrite.
func (c *Coordinator) detectConflicts(candidate *PendingMerge) []Conflict {
	var conflicts []Conflict

	for _, existing := range c.pending {
		if existing.Status != StatusPending && existing.Status != StatusMerged {
			continue
		}

		var pairs [][2]diff.LineRange
		for _, a := range candidate.Ranges {
			for _, b := range existing.Ranges {
				if a.Overlaps(b) {
					pairs = append(pairs, [2]diff.LineRange{a, b})
				}
			}
		}

		if len(pairs) > 0 {
			conflicts = append(conflicts, Conflict{
				MergeA:   candidate,
				MergeB:   existing,
				Pairs:    pairs,
				Severity: assessSeverity(pairs),
			})
		}
	}

	return conflicts
}

// assessSeverity determines how serious a conflict is: identical ranges
// are blocking, overlaps of more than five lines are major, everything
// else is minor. The overall severity is the maximum over pairs.
func assessSeverity(pairs [][2]diff.LineRange) Severity {
	severity := SeverityMinor
	for _, pair := range pairs {
		a, b := pair[0], pair[1]
		if a.Equal(b) {
			return SeverityBlocking
		}
		overlap := min(a.End, b.End) - max(a.Start, b.Start)
		if overlap > 5 && severity < SeverityMajor {
			severity = SeverityMajor
		}
	}
	return severity
}

// applyMerge patches every file in the merge and commits. All patched
// contents are staged in memory before anything is written, so a missing
// or unreadable file fails the whole merge with the document untouched.
func (c *Coordinator) applyMerge(merge *PendingMerge, t *thread.Thread) bool {
	type patchedFile struct {
		path    string
		content string
	}

	paths := make([]string, 0, len(merge.Diff.Files))
	for path := range merge.Diff.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var patched []patchedFile
	for _, path := range paths {
		fd := merge.Diff.Files[path]

		current, err := os.ReadFile(path) //nolint:gosec // G304: paths come from our own workspace diffs
		if err != nil {
			log.Printf("merge: cannot read %s: %v", path, err)
			return false
		}

		result := diff.Apply(string(current), fd.UnifiedDiff)
		if result == string(current) {
			// Whitespace-only diffs can produce identical output; not a
			// failure.
			log.Printf("merge: diff produced no changes for %s", path)
		}
		patched = append(patched, patchedFile{path: path, content: result})
	}

	for _, pf := range patched {
		if err := os.WriteFile(pf.path, []byte(pf.content), 0644); err != nil {
			log.Printf("merge: writing %s: %v", pf.path, err)
			return false
		}
	}

	linesAffected := diff.FormatRanges(merge.Ranges)
	message := fmt.Sprintf("Thread %s changes", merge.ThreadID)
	hash := c.store.CommitMerge(merge.ThreadID, message, paths, linesAffected)
	if hash == "" {
		// Apply succeeded but the commit did not; the merge is retained
		// as failed for inspection.
		return false
	}

	t.RecordCommit(merge.MessageID, hash)
	return true
}

// buildConflictNarrative renders the conflict in user-facing prose for
// the resolution thread.
func buildConflictNarrative(merge *PendingMerge, conflicts []Conflict) string {
	out := "I've detected conflicting changes from concurrent threads:\n"
	out += fmt.Sprintf("\n**Thread %s:**\n- Modified: %s\n- %d line changes\n",
		shortID(merge.ThreadID), diff.FormatRanges(merge.Ranges), merge.Diff.TotalChangedLines())

	for _, conflict := range conflicts {
		peer := conflict.MergeB
		out += fmt.Sprintf("\n**Thread %s:**\n- Modified: %s\n- %d line changes\n",
			shortID(peer.ThreadID), diff.FormatRanges(peer.Ranges), peer.Diff.TotalChangedLines())
	}

	out += `
These threads modified overlapping sections of the document.

Would you like me to:
1. Merge both changes intelligently (if compatible)
2. Choose one thread's changes (discard the other)
3. Help you manually merge (specify the result)

What's your preference?
`
	return out
}

// conflictThreadIDs lists every thread involved in the conflict.
func conflictThreadIDs(merge *PendingMerge, conflicts []Conflict) []string {
	ids := []string{merge.ThreadID}
	for _, conflict := range conflicts {
		ids = append(ids, conflict.MergeB.ThreadID)
	}
	return ids
}

// PendingCount returns how many merges are staged and unresolved.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, m := range c.pending {
		if m.Status == StatusPending || m.Status == StatusConflicted {
			count++
		}
	}
	return count
}

// Merges returns a snapshot of the staged merges.
func (c *Coordinator) Merges() []*PendingMerge {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PendingMerge, len(c.pending))
	copy(out, c.pending)
	return out
}

// ClearCompleted drops MERGED and FAILED merges from the queue, keeping
// staged conflicts. Returns how many were removed.
func (c *Coordinator) ClearCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.pending[:0]
	removed := 0
	for _, m := range c.pending {
		if m.Status == StatusMerged || m.Status == StatusFailed {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	c.pending = kept
	return removed
}

// postStatus routes a status message through the host when attached.
func (c *Coordinator) postStatus(t *thread.Thread, text string) {
	if c.host != nil {
		c.host.PostStatus(t, text)
	}
}

func (c *Coordinator) logEvent(eventType sessionlog.EventType, threadID, context string) {
	if c.logger != nil {
		c.logger.Log(eventType, threadID, context)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
