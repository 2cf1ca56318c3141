package sessionlog

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLogEventCreatesFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)

	l.Log(EventSpawn, "aaaabbbbccccdddd", "msg m-1")
	l.Log(EventMerge, "aaaabbbbccccdddd", "commit 9f8e7d")
	l.Log(EventShutdown, "", "")

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("log lines = %d, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "[spawn] thread aaaabbbb") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "merged (commit 9f8e7d)") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "[shutdown]") {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestFormatLogLine(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 42, 3, 0, time.UTC)

	line := formatLogLine(Event{
		Timestamp: ts,
		Type:      EventConflict,
		ThreadID:  "0123456789",
		Context:   "with t-2",
	})
	want := "2026-01-15 10:42:03 [conflict] thread 01234567 conflicted (with t-2)"
	if line != want {
		t.Errorf("line = %q\nwant   %q", line, want)
	}
}

func TestLogConcurrent(t *testing.T) {
	l := NewLogger(t.TempDir())

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 20; j++ {
				l.Log(EventResponse, "thread-x", "")
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 200 {
		t.Errorf("log lines = %d, want 200", len(lines))
	}
}
