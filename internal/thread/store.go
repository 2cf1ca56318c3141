package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/soapko/harlowe/internal/util"
)

// storeLockTimeout is how long to wait for the thread-store lock.
const storeLockTimeout = 5 * time.Second

// Store persists threads to disk.
//
// Threads are stored as JSON in a hidden .harlowe directory alongside the
// document being edited. A file lock guards the store against concurrent
// Harlowe sessions on the same document.
type Store struct {
	documentPath string
	threadsFile  string
}

// storeFile is the on-disk envelope.
type storeFile struct {
	MarkdownFile string         `json:"markdown_file"`
	Threads      []Serializable `json:"threads"`
}

// NewStore creates a Store for the given document. The backing directory
// is created if needed.
func NewStore(documentPath string) (*Store, error) {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		return nil, fmt.Errorf("resolving document path: %w", err)
	}

	dir := filepath.Join(filepath.Dir(abs), ".harlowe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating threads directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return &Store{
		documentPath: abs,
		threadsFile:  filepath.Join(dir, stem+".threads.json"),
	}, nil
}

// Path returns the threads file path.
func (s *Store) Path() string {
	return s.threadsFile
}

// Save writes all threads to disk atomically under the store lock.
func (s *Store) Save(threads []*Thread) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	records := make([]Serializable, 0, len(threads))
	for _, t := range threads {
		records = append(records, t.ToSerializable())
	}

	envelope := storeFile{
		MarkdownFile: s.documentPath,
		Threads:      records,
	}

	if err := util.AtomicWriteJSON(s.threadsFile, envelope); err != nil {
		return fmt.Errorf("writing threads file: %w", err)
	}
	return nil
}

// Load reads threads from disk. Returns an empty list when no file
// exists or the file belongs to a different document.
func (s *Store) Load() ([]*Thread, error) {
	lock, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(s.threadsFile) //nolint:gosec // G304: path derived from the document being edited
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading threads file: %w", err)
	}

	var envelope storeFile
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing threads file: %w", err)
	}

	// Guard against a stale file left by a different document with the
	// same stem.
	stored := envelope.MarkdownFile
	if !filepath.IsAbs(stored) {
		stored = filepath.Join(filepath.Dir(filepath.Dir(s.threadsFile)), stored)
	}
	if filepath.Clean(stored) != s.documentPath {
		return nil, nil
	}

	threads := make([]*Thread, 0, len(envelope.Threads))
	for _, record := range envelope.Threads {
		threads = append(threads, FromSerializable(record))
	}
	return threads, nil
}

// Clear deletes the threads file.
func (s *Store) Clear() error {
	if err := os.Remove(s.threadsFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing threads file: %w", err)
	}
	return nil
}

// acquireLock takes an exclusive lock on the store. The lock file is
// created adjacent to the threads file with a .lock suffix.
func (s *Store) acquireLock() (*flock.Flock, error) {
	lock := flock.New(s.threadsFile + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), storeLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring thread store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("timeout waiting for thread store lock")
	}
	return lock, nil
}
