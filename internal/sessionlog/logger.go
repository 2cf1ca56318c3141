// Package sessionlog provides centralized logging for Harlowe thread
// lifecycle events.
package sessionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of thread lifecycle event.
type EventType string

const (
	// EventSpawn indicates a thread invocation was started.
	EventSpawn EventType = "spawn"
	// EventResponse indicates the assistant responded.
	EventResponse EventType = "response"
	// EventMerge indicates a thread's changes were merged and committed.
	EventMerge EventType = "merge"
	// EventConflict indicates a merge was staged as conflicted.
	EventConflict EventType = "conflict"
	// EventMergeFailed indicates a merge could not be applied or committed.
	EventMergeFailed EventType = "merge_failed"
	// EventUndo indicates a thread's commit was reverted.
	EventUndo EventType = "undo"
	// EventRedo indicates a revert was reverted.
	EventRedo EventType = "redo"
	// EventCancel indicates a thread invocation was cancelled.
	EventCancel EventType = "cancel"
	// EventCrash indicates a thread task failed.
	EventCrash EventType = "crash"
	// EventTimeout indicates an assistant invocation hit its ceiling.
	EventTimeout EventType = "timeout"
	// EventCheckpoint indicates a session checkpoint commit.
	EventCheckpoint EventType = "checkpoint"
	// EventShutdown indicates the manager shut down.
	EventShutdown EventType = "shutdown"
)

// Event represents a single thread lifecycle event.
type Event struct {
	Timestamp time.Time
	Type      EventType
	ThreadID  string
	Context   string // additional context (commit hash, error message, etc.)
}

// Logger appends events to the session log file.
type Logger struct {
	logPath string
	mu      sync.Mutex
}

// NewLogger creates a Logger writing to <harloweDir>/logs/session.log.
func NewLogger(harloweDir string) *Logger {
	return &Logger{
		logPath: filepath.Join(harloweDir, "logs", "session.log"),
	}
}

// Log is a convenience method that creates an Event and logs it.
// Logging is best-effort; failures are swallowed.
func (l *Logger) Log(eventType EventType, threadID, context string) {
	_ = l.LogEvent(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		ThreadID:  threadID,
		Context:   context,
	})
}

// LogEvent writes a single event to the session log.
func (l *Logger) LogEvent(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLogLine(event) + "\n"); err != nil {
		return fmt.Errorf("writing log line: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.logPath
}

// formatLogLine formats an event as a human-readable log line.
// Format: 2026-01-15 10:42:03 [merge] thread a1b2c3d4 merged (commit 9f8e7d)
func formatLogLine(e Event) string {
	ts := e.Timestamp.Format("2006-01-02 15:04:05")

	var detail string
	switch e.Type {
	case EventSpawn:
		detail = "invocation started"
	case EventResponse:
		detail = "assistant responded"
	case EventMerge:
		detail = "merged"
	case EventConflict:
		detail = "conflicted"
	case EventMergeFailed:
		detail = "merge failed"
	case EventUndo:
		detail = "undone"
	case EventRedo:
		detail = "redone"
	case EventCancel:
		detail = "cancelled"
	case EventCrash:
		detail = "task failed"
	case EventTimeout:
		detail = "invocation timed out"
	case EventCheckpoint:
		detail = "session checkpoint"
	case EventShutdown:
		detail = "shutdown"
	default:
		detail = string(e.Type)
	}
	if e.Context != "" {
		detail += " (" + e.Context + ")"
	}

	if e.ThreadID == "" {
		return fmt.Sprintf("%s [%s] %s", ts, e.Type, detail)
	}
	return fmt.Sprintf("%s [%s] thread %s %s", ts, e.Type, shortID(e.ThreadID), detail)
}

// shortID truncates a thread id for log readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
