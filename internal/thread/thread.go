// Package thread provides the conversation-thread model at the heart of
// Harlowe: each thread is a persistent conversation with the assistant
// about a specific text selection in the document.
package thread

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a comment thread.
type Status string

const (
	// StatusPending means the thread is waiting to start.
	StatusPending Status = "pending"
	// StatusActive means the thread is open and in conversation.
	StatusActive Status = "active"
	// StatusCompleted means the user closed the thread.
	StatusCompleted Status = "completed"
	// StatusFailed means an error occurred. Terminal.
	StatusFailed Status = "failed"
)

// Role of a message in the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Reserved metadata keys. The core owns these; everything else in the
// metadata map belongs to the host.
const (
	MetaGitCommit      = "git_commit"
	MetaReverted       = "reverted"
	MetaRevertCommit   = "revert_commit"
	MetaRedoCommit     = "redo_commit"
	MetaIsSystemThread = "is_system_thread"
	MetaUndoTarget     = "undo_target"
	MetaConflictsWith  = "conflicts_with"
)

// Message is a single message in a thread conversation. System messages
// are a core concept carried as a tagged variant, not recovered by
// sniffing rendered prefixes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsSystem  bool      `json:"is_system,omitempty"`
}

// Thread represents an assistant conversation tied to a text selection.
//
// A thread's fields are guarded by an internal mutex: the manager, the
// merge coordinator, and the undo engine all mutate threads from their
// own goroutines.
type Thread struct {
	mu sync.Mutex

	ID               string
	SelectedText     string
	InitialRequest   string
	LineStart        int // 1-indexed inclusive; (0,0) means document-scoped
	LineEnd          int
	Status           Status
	Messages         []Message
	Error            string
	AwaitingResponse bool
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastViewedAt     *time.Time
}

// New creates a thread in PENDING state.
func New(selectedText, initialRequest string, lineStart, lineEnd int) *Thread {
	now := time.Now()
	return &Thread{
		ID:             uuid.NewString(),
		SelectedText:   selectedText,
		InitialRequest: initialRequest,
		LineStart:      lineStart,
		LineEnd:        lineEnd,
		Status:         StatusPending,
		Metadata:       make(map[string]interface{}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddMessage appends a message to the conversation history and returns
// its id.
func (t *Thread) AddMessage(role Role, content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addMessageLocked(role, content, false)
}

// AddSystemMessage appends a system status annotation emitted by the core.
func (t *Thread) AddSystemMessage(content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addMessageLocked(RoleSystem, content, true)
}

func (t *Thread) addMessageLocked(role Role, content string, system bool) string {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		IsSystem:  system,
	}
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now()
	return msg.ID
}

// MessageCount returns the number of messages in the conversation.
func (t *Thread) MessageCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Messages)
}

// SetStatus transitions the thread status. Transitions out of FAILED are
// refused; FAILED is terminal.
func (t *Thread) SetStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == StatusFailed {
		return false
	}
	t.Status = s
	t.UpdatedAt = time.Now()
	return true
}

// GetStatus returns the current status.
func (t *Thread) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// SetAwaiting sets the awaiting-response flag.
func (t *Thread) SetAwaiting(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AwaitingResponse = v
}

// SetError records an error description on the thread.
func (t *Thread) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Error = msg
	t.UpdatedAt = time.Now()
}

// RecordCommit records a merge commit hash. The first recorded hash
// claims the git_commit key and is never overwritten; later commits are
// recorded under per-message keys.
func (t *Thread) RecordCommit(messageID, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.Metadata[MetaGitCommit]; !ok {
		t.Metadata[MetaGitCommit] = hash
	} else {
		t.Metadata[MetaGitCommit+":"+messageID] = hash
	}
	t.UpdatedAt = time.Now()
}

// GitCommit returns the thread's first merge commit hash, if any.
func (t *Thread) GitCommit() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hash, ok := t.Metadata[MetaGitCommit].(string)
	return hash, ok && hash != ""
}

// SetMeta sets a metadata key.
func (t *Thread) SetMeta(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Metadata[key] = value
	t.UpdatedAt = time.Now()
}

// DeleteMeta removes a metadata key.
func (t *Thread) DeleteMeta(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.Metadata, key)
	t.UpdatedAt = time.Now()
}

// Meta returns a metadata value.
func (t *Thread) Meta(key string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.Metadata[key]
	return v, ok
}

// MetaString returns a metadata value as a string.
func (t *Thread) MetaString(key string) string {
	v, _ := t.Meta(key)
	s, _ := v.(string)
	return s
}

// MetaBool returns a metadata value as a bool.
func (t *Thread) MetaBool(key string) bool {
	v, _ := t.Meta(key)
	b, _ := v.(bool)
	return b
}

// IsSystemThread reports whether the core synthesized this thread.
func (t *Thread) IsSystemThread() bool {
	return t.MetaBool(MetaIsSystemThread)
}

// DocumentScoped reports whether the thread targets the whole document
// rather than a line range.
func (t *Thread) DocumentScoped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.LineStart == 0 && t.LineEnd == 0
}

// ContainsLine reports whether the thread's selection covers the given
// 1-indexed line.
func (t *Thread) ContainsLine(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.LineStart <= n && n <= t.LineEnd
}

// MarkViewed records that the user viewed this thread.
func (t *Thread) MarkViewed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.LastViewedAt = &now
}

// HasUnreadUpdates reports whether the thread changed since last viewed.
func (t *Thread) HasUnreadUpdates() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.LastViewedAt == nil {
		return len(t.Messages) > 0
	}
	return t.UpdatedAt.After(*t.LastViewedAt)
}
