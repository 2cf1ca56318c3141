package resources

import (
	"os"
	"path/filepath"
	"testing"
)

func setup(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(doc, []byte("# doc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, doc
}

func TestSetAndGetResources(t *testing.T) {
	dir, doc := setup(t)
	ref := filepath.Join(dir, "style.md")
	if err := os.WriteFile(ref, []byte("style\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(doc)
	m.SetResources([]string{ref})

	got := m.Resources()
	if len(got) != 1 || got[0] != ref {
		t.Errorf("Resources = %v, want [%s]", got, ref)
	}

	// Associations persist across manager instances.
	m2 := NewManager(doc)
	got = m2.Resources()
	if len(got) != 1 || got[0] != ref {
		t.Errorf("reloaded Resources = %v", got)
	}
}

func TestResourcesDropMissingFiles(t *testing.T) {
	dir, doc := setup(t)
	ref := filepath.Join(dir, "style.md")
	if err := os.WriteFile(ref, []byte("style\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(doc)
	m.SetResources([]string{ref})

	if err := os.Remove(ref); err != nil {
		t.Fatal(err)
	}

	if got := m.Resources(); len(got) != 0 {
		t.Errorf("Resources = %v, want empty after file removal", got)
	}
	// The stale entry was pruned from the sidecar too.
	m2 := NewManager(doc)
	if got := m2.Resources(); len(got) != 0 {
		t.Errorf("reloaded Resources = %v, want empty", got)
	}
}

func TestEmptyListRemovesEntry(t *testing.T) {
	dir, doc := setup(t)
	ref := filepath.Join(dir, "style.md")
	if err := os.WriteFile(ref, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(doc)
	m.SetResources([]string{ref})
	m.SetResources(nil)

	if got := m.Resources(); len(got) != 0 {
		t.Errorf("Resources = %v, want empty", got)
	}
}

func TestCorruptSidecarStartsFresh(t *testing.T) {
	dir, doc := setup(t)
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(doc)
	if got := m.Resources(); len(got) != 0 {
		t.Errorf("Resources = %v, want empty for corrupt sidecar", got)
	}
}

func TestAvailableMarkdownFiles(t *testing.T) {
	dir, doc := setup(t)
	for _, name := range []string{"beta.md", "Alpha.md", "notes.markdown", "other.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(doc)
	got := m.AvailableMarkdownFiles()

	var names []string
	for _, f := range got {
		names = append(names, filepath.Base(f))
	}

	want := []string{"Alpha.md", "beta.md", "notes.markdown"}
	if len(names) != len(want) {
		t.Fatalf("files = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
