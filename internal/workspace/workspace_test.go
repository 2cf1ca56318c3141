package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireCopiesFiles(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	res := filepath.Join(dir, "style.md")
	writeFile(t, doc, "# doc\nbody\n")
	writeFile(t, res, "style guide\n")

	ws := New(t.TempDir(), doc, "t-1", "m-1", []string{res})
	info, err := ws.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ws.Release()

	if filepath.Base(info.File) != "doc.md" {
		t.Errorf("workspace file = %q, want basename doc.md", info.File)
	}
	data, err := os.ReadFile(info.File)
	if err != nil {
		t.Fatalf("reading workspace copy: %v", err)
	}
	if string(data) != "# doc\nbody\n" {
		t.Errorf("workspace copy = %q", data)
	}
	if len(info.ResourceFiles) != 1 {
		t.Fatalf("resource files = %d, want 1", len(info.ResourceFiles))
	}
}

func TestUniqueDirectories(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "x\n")

	root := t.TempDir()
	seen := make(map[string]bool)
	// Same thread, same message, created back to back: names must not
	// collide even within one millisecond.
	for i := 0; i < 50; i++ {
		ws := New(root, doc, "t-1", "m-1", nil)
		if seen[ws.Dir()] {
			t.Fatalf("duplicate workspace dir: %s", ws.Dir())
		}
		seen[ws.Dir()] = true
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "a\nb\nc\n")

	ws := New(t.TempDir(), doc, "t-1", "m-1", nil)
	info, err := ws.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Release()

	writeFile(t, info.File, "a\nB\nc\n")

	wd := ws.Diff()
	if !wd.HasChanges() {
		t.Fatal("expected changes")
	}
	if wd.ThreadID != "t-1" || wd.MessageID != "m-1" {
		t.Errorf("envelope ids = %s/%s", wd.ThreadID, wd.MessageID)
	}
	fd, ok := wd.Files[doc]
	if !ok {
		t.Fatalf("no FileDiff for %s; files = %v", doc, wd.Files)
	}
	if fd.LinesAdded != 1 || fd.LinesRemoved != 1 {
		t.Errorf("counts = +%d -%d, want +1 -1", fd.LinesAdded, fd.LinesRemoved)
	}
}

func TestDiffNoChanges(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "a\n")

	ws := New(t.TempDir(), doc, "t-1", "m-1", nil)
	if _, err := ws.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer ws.Release()

	if ws.Diff().HasChanges() {
		t.Error("untouched workspace should produce no changes")
	}
}

func TestDiffSkipsDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "a\n")

	ws := New(t.TempDir(), doc, "t-1", "m-1", nil)
	info, err := ws.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Release()

	if err := os.Remove(info.File); err != nil {
		t.Fatal(err)
	}

	if ws.Diff().HasChanges() {
		t.Error("deleted workspace file records no change")
	}
}

func TestReleaseRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "a\n")

	ws := New(t.TempDir(), doc, "t-1", "m-1", nil)
	if _, err := ws.Acquire(); err != nil {
		t.Fatal(err)
	}

	ws.Release()
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Error("workspace directory still exists after Release")
	}

	// Idempotent.
	ws.Release()
}

func TestPreserveForDebug(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "a\n")

	ws := New(t.TempDir(), doc, "t-1", "m-1", nil)
	if _, err := ws.Acquire(); err != nil {
		t.Fatal(err)
	}

	ws.PreserveForDebug()
	ws.Release()

	if _, err := os.Stat(ws.Dir()); err != nil {
		t.Errorf("preserved workspace should still exist: %v", err)
	}
}

func TestAcquireMissingSource(t *testing.T) {
	ws := New(t.TempDir(), "/nonexistent/doc.md", "t-1", "m-1", nil)
	if _, err := ws.Acquire(); err == nil {
		t.Fatal("Acquire with missing document should fail")
	}
	// Failed acquire cleans up after itself.
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Error("failed Acquire left the directory behind")
	}
}

func TestCleanupOrphans(t *testing.T) {
	root := t.TempDir()
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "a\n")

	ws := New(root, doc, "t-old", "m-1", nil)
	if _, err := ws.Acquire(); err != nil {
		t.Fatal(err)
	}
	// Leak it (simulating a crash), then age it.
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(ws.Dir(), old, old); err != nil {
		t.Fatal(err)
	}

	fresh := New(root, doc, "t-new", "m-1", nil)
	if _, err := fresh.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer fresh.Release()

	count := CleanupOrphans(root, 24*time.Hour)
	if count != 1 {
		t.Errorf("cleaned %d orphans, want 1", count)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Error("stale workspace survived the sweep")
	}
	if _, err := os.Stat(fresh.Dir()); err != nil {
		t.Error("fresh workspace should survive the sweep")
	}

	if got := len(ListActive(root)); got != 1 {
		t.Errorf("ListActive = %d entries, want 1", got)
	}
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeFile(t, doc, "12345")

	ws := New(t.TempDir(), doc, "t-1", "m-1", nil)
	if _, err := ws.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer ws.Release()

	if got := Size(ws.Dir()); got != 5 {
		t.Errorf("Size = %d, want 5", got)
	}
}
