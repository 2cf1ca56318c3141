// Package cmd implements the harlowe CLI.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/config"
	"github.com/soapko/harlowe/internal/gitstore"
	"github.com/soapko/harlowe/internal/manager"
	"github.com/soapko/harlowe/internal/merge"
	"github.com/soapko/harlowe/internal/resources"
	"github.com/soapko/harlowe/internal/sessionlog"
	"github.com/soapko/harlowe/internal/style"
	"github.com/soapko/harlowe/internal/thread"
	"github.com/soapko/harlowe/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "harlowe",
	Short: "Concurrent assistant-edit coordination for markdown documents",
	Long: `Harlowe coordinates concurrent AI-assistant edits to a markdown
document: each comment thread runs its assistant in an isolated
workspace, merges land through a single serialization gate with
line-range conflict detection, and every merge is a revertible git
commit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		style.PrintError("%v", err)
		return 1
	}
	return 0
}

// session bundles the wired core for one document.
type session struct {
	cfg          *config.Config
	store        *gitstore.Store
	coordinator  *merge.Coordinator
	manager      *manager.Manager
	threadStore  *thread.Store
	logger       *sessionlog.Logger
	documentPath string
}

// openSession wires the core around a document, loading persisted
// threads into the manager.
func openSession(documentPath string) (*session, error) {
	if _, err := os.Stat(documentPath); err != nil {
		return nil, fmt.Errorf("document not found: %s", documentPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	threadStore, err := thread.NewStore(documentPath)
	if err != nil {
		return nil, err
	}

	store := gitstore.NewStore(documentPath)
	if !store.Available() {
		style.PrintWarning("git unavailable - merges will not be committed and undo is disabled")
	}

	logger := sessionlog.NewLogger(harloweDirFor(documentPath))
	coordinator := merge.New(store, documentPath, logger)

	resourceFiles := resources.NewManager(documentPath).Resources()
	resourceFiles = append(resourceFiles, cfg.ValidResourceFiles()...)

	mgr := manager.New(manager.Options{
		DocumentPath:       documentPath,
		ResourceFiles:      resourceFiles,
		ClaudeCommand:      cfg.ClaudeCommand,
		MaxConcurrent:      cfg.MaxConcurrent,
		WorkspaceRoot:      cfg.WorkspaceRoot,
		PreserveWorkspaces: cfg.PreserveWorkspaces,
		Coordinator:        coordinator,
		Logger:             logger,
		SubprocessTimeout:  cfg.Timeouts.Subprocess.Duration,
		TerminateTimeout:   cfg.Timeouts.Terminate.Duration,
		TaskWaitTimeout:    cfg.Timeouts.TaskWait.Duration,
	})

	persisted, err := threadStore.Load()
	if err != nil {
		style.PrintWarning("could not load threads: %v", err)
	}
	for _, t := range persisted {
		mgr.AddThread(t)
	}

	// Sweep sandboxes leaked by crashed sessions.
	if n := workspace.CleanupOrphans(cfg.WorkspaceRoot, 24*time.Hour); n > 0 {
		fmt.Printf("%s cleaned up %d orphaned workspace(s)\n", style.ArrowPrefix, n)
	}

	return &session{
		cfg:          cfg,
		store:        store,
		coordinator:  coordinator,
		manager:      mgr,
		threadStore:  threadStore,
		logger:       logger,
		documentPath: documentPath,
	}, nil
}

// save persists the manager's threads.
func (s *session) save() {
	if err := s.threadStore.Save(s.manager.Threads()); err != nil {
		style.PrintWarning("could not save threads: %v", err)
	}
}

// findThread resolves a thread by id prefix.
func (s *session) findThread(idPrefix string) (*thread.Thread, error) {
	var matches []*thread.Thread
	for _, t := range s.manager.Threads() {
		if t.ID == idPrefix {
			return t, nil
		}
		if len(idPrefix) >= 4 && len(t.ID) >= len(idPrefix) && t.ID[:len(idPrefix)] == idPrefix {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("no thread matching %q", idPrefix)
	default:
		return nil, fmt.Errorf("thread id %q is ambiguous (%d matches)", idPrefix, len(matches))
	}
}

// harloweDirFor is where session state for a document lives.
func harloweDirFor(documentPath string) string {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		abs = documentPath
	}
	return filepath.Join(filepath.Dir(abs), ".harlowe")
}
