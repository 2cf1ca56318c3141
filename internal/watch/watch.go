// Package watch notifies the host when the live document changes on
// disk, so the UI can reload after merges and reverts (or edits made by
// another program).
package watch

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces bursts of filesystem events (a merge writes
// the file, then git touches it again) into one notification.
const debounceDelay = 200 * time.Millisecond

// DocumentWatcher watches one document and fires a debounced callback
// when it changes.
type DocumentWatcher struct {
	watcher      *fsnotify.Watcher
	documentPath string
	onChange     func()

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDocumentWatcher creates a watcher for the document. The parent
// directory is watched rather than the file itself, so atomic
// write-then-rename updates keep being seen.
func NewDocumentWatcher(documentPath string, onChange func()) (*DocumentWatcher, error) {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		return nil, fmt.Errorf("resolving document path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching document directory: %w", err)
	}

	return &DocumentWatcher{
		watcher:      w,
		documentPath: abs,
		onChange:     onChange,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start launches the event loop goroutine.
func (dw *DocumentWatcher) Start() {
	go dw.eventLoop()
}

// Stop closes the watcher and cancels any pending notification.
// Safe to call multiple times.
func (dw *DocumentWatcher) Stop() {
	dw.stopOnce.Do(func() {
		close(dw.stopCh)
		_ = dw.watcher.Close()

		dw.debounceMu.Lock()
		if dw.debounceTimer != nil {
			dw.debounceTimer.Stop()
		}
		dw.debounceMu.Unlock()
	})
}

// eventLoop processes fsnotify events and errors.
func (dw *DocumentWatcher) eventLoop() {
	for {
		select {
		case <-dw.stopCh:
			return
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			dw.handleEvent(event)
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %v", err)
		}
	}
}

// handleEvent resets the debounce timer when the event touches the
// document.
func (dw *DocumentWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != dw.documentPath {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	dw.debounceMu.Lock()
	defer dw.debounceMu.Unlock()
	if dw.debounceTimer != nil {
		dw.debounceTimer.Stop()
	}
	dw.debounceTimer = time.AfterFunc(debounceDelay, func() {
		select {
		case <-dw.stopCh:
		default:
			dw.onChange()
		}
	})
}
