// Package undo provides revert and redo of individual threads on top of
// the version store, escalating to a resolution thread when a revert
// would conflict with later changes.
package undo

import (
	"fmt"
	"strings"

	"github.com/soapko/harlowe/internal/gitstore"
	"github.com/soapko/harlowe/internal/merge"
	"github.com/soapko/harlowe/internal/sessionlog"
	"github.com/soapko/harlowe/internal/thread"
)

// ThreadHost is what the engine needs from the thread manager.
type ThreadHost interface {
	PostStatus(t *thread.Thread, text string)
	SpawnResolutionThread(context string, metadata map[string]interface{}) *thread.Thread
	Threads() []*thread.Thread
}

// Engine performs undo/redo through the version store. It never edits
// files itself — reverts mutate the working tree through git, inside the
// merge coordinator's gate so reverts and merges cannot interleave.
type Engine struct {
	store       *gitstore.Store
	host        ThreadHost
	coordinator *merge.Coordinator // optional; supplies the gate
	logger      *sessionlog.Logger
}

// New creates an Engine.
func New(store *gitstore.Store, host ThreadHost, coordinator *merge.Coordinator, logger *sessionlog.Logger) *Engine {
	return &Engine{
		store:       store,
		host:        host,
		coordinator: coordinator,
		logger:      logger,
	}
}

// serialize runs fn inside the merge gate when a coordinator is wired.
func (e *Engine) serialize(fn func()) {
	if e.coordinator != nil {
		e.coordinator.Serialize(fn)
		return
	}
	fn()
}

// Undo reverts a thread's merge commit. When later commits touch the
// same lines, nothing is reverted; a resolution thread is created so the
// user can arbitrate.
func (e *Engine) Undo(t *thread.Thread) {
	commit, ok := t.GitCommit()
	if !ok || t.MetaBool(thread.MetaReverted) {
		e.host.PostStatus(t, "⚠️ Cannot undo: thread not merged or already undone")
		return
	}

	if !e.store.Available() {
		e.host.PostStatus(t, "⚠️ Cannot undo: version control unavailable")
		return
	}

	var clean bool
	e.serialize(func() {
		clean = e.store.CanRevertCleanly(commit)
	})

	if clean {
		e.executeCleanUndo(t, commit)
		return
	}
	e.createResolutionThread(t, commit)
}

// executeCleanUndo reverts the commit and records the bookkeeping.
func (e *Engine) executeCleanUndo(t *thread.Thread, commit string) {
	var revertHash string
	var status gitstore.RevertStatus
	e.serialize(func() {
		revertHash, status = e.store.Revert(commit)
	})

	if status != gitstore.RevertOK {
		e.host.PostStatus(t, fmt.Sprintf("⚠️ Undo failed: %s", status))
		return
	}

	t.SetMeta(thread.MetaReverted, true)
	t.SetMeta(thread.MetaRevertCommit, revertHash)
	t.DeleteMeta(thread.MetaRedoCommit)

	e.host.PostStatus(t, "Changes undone")
	e.logEvent(sessionlog.EventUndo, t.ID, revertHash)
}

// Redo reverts a thread's revert, restoring its original changes. With a
// nil thread the most recently undone thread is redone.
func (e *Engine) Redo(t *thread.Thread) {
	if t == nil {
		t = e.mostRecentUndone()
		if t == nil {
			return
		}
	}

	revertCommit := t.MetaString(thread.MetaRevertCommit)
	if !t.MetaBool(thread.MetaReverted) || revertCommit == "" {
		e.host.PostStatus(t, "⚠️ Cannot redo: thread not undone or missing revert commit")
		return
	}

	var redoHash string
	var status gitstore.RevertStatus
	e.serialize(func() {
		redoHash, status = e.store.Revert(revertCommit)
	})

	if status != gitstore.RevertOK {
		e.host.PostStatus(t, fmt.Sprintf("⚠️ Redo failed: %s", status))
		return
	}

	t.SetMeta(thread.MetaReverted, false)
	t.SetMeta(thread.MetaRedoCommit, redoHash)

	e.host.PostStatus(t, "Changes re-applied")
	e.logEvent(sessionlog.EventRedo, t.ID, redoHash)
}

// mostRecentUndone picks the undone thread whose revert commit is the
// newest in history. When none of the revert commits appears in the
// recent history, the last undone thread in list order is returned.
func (e *Engine) mostRecentUndone() *thread.Thread {
	var undone []*thread.Thread
	for _, t := range e.host.Threads() {
		if t.MetaBool(thread.MetaReverted) && t.MetaString(thread.MetaRevertCommit) != "" {
			undone = append(undone, t)
		}
	}
	// History is newest first.
	for _, info := range e.store.History(100) {
		for _, t := range undone {
			rc := t.MetaString(thread.MetaRevertCommit)
			if strings.HasPrefix(info.Hash, rc) || strings.HasPrefix(rc, info.Hash) {
				return t
			}
		}
	}
	if len(undone) == 0 {
		return nil
	}
	return undone[len(undone)-1]
}

// createResolutionThread escalates a conflicting undo: it enumerates the
// known threads with commits newer than the target and asks the user to
// choose a strategy.
func (e *Engine) createResolutionThread(t *thread.Thread, commit string) {
	conflicting := e.findConflicts(commit)

	context := e.buildConflictContext(t, conflicting)

	ids := make([]string, 0, len(conflicting))
	for _, ct := range conflicting {
		ids = append(ids, ct.ID)
	}
	meta := map[string]interface{}{
		thread.MetaIsSystemThread: true,
		thread.MetaUndoTarget:     t.ID,
		thread.MetaGitCommit:      commit,
		thread.MetaConflictsWith:  ids,
	}
	e.host.SpawnResolutionThread(context, meta)

	peer := "another thread"
	if len(conflicting) > 0 {
		peer = shortID(conflicting[0].ID)
	}
	e.host.PostStatus(t, fmt.Sprintf("Conflict detected with %s. Created resolution thread", peer))
}

// findConflicts walks history newer than the commit and maps thread-
// attributed commits back to known threads.
func (e *Engine) findConflicts(commit string) []*thread.Thread {
	history := e.store.History(100)

	targetIndex := -1
	for i, info := range history {
		if strings.HasPrefix(info.Hash, commit) || strings.HasPrefix(commit, info.Hash) {
			targetIndex = i
			break
		}
	}
	if targetIndex < 0 {
		return nil
	}

	known := make(map[string]*thread.Thread)
	for _, t := range e.host.Threads() {
		known[t.ID] = t
	}

	var conflicting []*thread.Thread
	seen := make(map[string]bool)
	// History is newest first, so everything before the target is newer.
	for _, info := range history[:targetIndex] {
		if info.ThreadID == "" || seen[info.ThreadID] {
			continue
		}
		if t, ok := known[info.ThreadID]; ok {
			conflicting = append(conflicting, t)
			seen[info.ThreadID] = true
		}
	}
	return conflicting
}

// buildConflictContext renders the undo conflict in user-facing prose.
func (e *Engine) buildConflictContext(target *thread.Thread, conflicting []*thread.Thread) string {
	if len(conflicting) == 0 {
		return fmt.Sprintf(`You requested to undo changes from thread %s.

However, there are conflicts preventing a clean undo. This likely means
other changes were made to the same sections after this thread.

Would you like me to investigate and help resolve these conflicts?`, shortID(target.ID))
	}

	peer := conflicting[0]
	return fmt.Sprintf(`You requested to undo changes from thread %s.

However, thread %s modified the same sections of the document after
thread %s.

Here's what each thread did:

Thread %s:
%s

Thread %s:
%s

Would you like me to:
1. Undo both threads (restore to before either made changes)
2. Keep thread %s, undo only thread %s
3. Something else (please describe)

What's your preference?`,
		shortID(target.ID),
		shortID(peer.ID), shortID(target.ID),
		shortID(target.ID), e.summarizeChanges(target),
		shortID(peer.ID), e.summarizeChanges(peer),
		shortID(peer.ID), shortID(target.ID))
}

// summarizeChanges derives a human-readable summary of a thread's merge
// from the version store's commit metadata.
func (e *Engine) summarizeChanges(t *thread.Thread) string {
	commit, ok := t.GitCommit()
	if !ok {
		return "No changes recorded"
	}

	meta, ok := e.store.MetadataFor(commit)
	if !ok {
		return "Unable to retrieve change details"
	}

	var parts []string
	if meta.LinesAffected != "" {
		parts = append(parts, "Lines affected: "+meta.LinesAffected)
	}
	for _, line := range strings.Split(meta.Message, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Lines:") {
			parts = append(parts, "Description: "+line)
			break
		}
	}
	if len(parts) == 0 {
		return "Modified the document"
	}
	return strings.Join(parts, "\n")
}

func (e *Engine) logEvent(eventType sessionlog.EventType, threadID, context string) {
	if e.logger != nil {
		e.logger.Log(eventType, threadID, context)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
