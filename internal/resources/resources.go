// Package resources manages per-document resource-file associations.
//
// Resource files are read-only reference documents (style guides,
// glossaries) copied into every workspace and included in prompts. The
// associations persist in a JSON sidecar next to the document.
package resources

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soapko/harlowe/internal/util"
)

// FileName is the sidecar file holding resource associations.
const FileName = ".harlowe-resources.json"

// Manager persists resource-file associations for one document.
type Manager struct {
	documentPath string
	sidecarPath  string
	data         map[string][]string // document path -> resource paths
}

// NewManager loads (or initializes) the associations for a document.
func NewManager(documentPath string) *Manager {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		abs = documentPath
	}

	m := &Manager{
		documentPath: abs,
		sidecarPath:  filepath.Join(filepath.Dir(abs), FileName),
		data:         make(map[string][]string),
	}
	m.load()
	return m
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.sidecarPath) //nolint:gosec // G304: sidecar next to the user's document
	if err != nil {
		return
	}
	// A corrupted sidecar starts fresh.
	if err := json.Unmarshal(data, &m.data); err != nil {
		m.data = make(map[string][]string)
	}
}

func (m *Manager) save() {
	// Read-only filesystems are tolerated silently.
	_ = util.AtomicWriteJSON(m.sidecarPath, m.data)
}

// Resources returns the document's resource files, dropping entries that
// no longer exist on disk.
func (m *Manager) Resources() []string {
	stored := m.data[m.documentPath]

	var valid []string
	for _, path := range stored {
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			valid = append(valid, path)
		}
	}

	if len(valid) != len(stored) {
		m.SetResources(valid)
	}
	return valid
}

// SetResources replaces the document's resource list. Paths are stored
// absolute; an empty list removes the entry.
func (m *Manager) SetResources(files []string) {
	var absolute []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		absolute = append(absolute, abs)
	}

	if len(absolute) > 0 {
		m.data[m.documentPath] = absolute
	} else {
		delete(m.data, m.documentPath)
	}
	m.save()
}

// AvailableMarkdownFiles lists the other markdown files in the
// document's directory, sorted by name.
func (m *Manager) AvailableMarkdownFiles() []string {
	dir := filepath.Dir(m.documentPath)

	var files []string
	for _, pattern := range []string{"*.md", "*.markdown"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, match := range matches {
			if match != m.documentPath {
				files = append(files, match)
			}
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(filepath.Base(files[i])) < strings.ToLower(filepath.Base(files[j]))
	})
	return files
}
