package cmd

import (
	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/undo"
)

var undoCmd = &cobra.Command{
	Use:   "undo <file> <thread-id>",
	Short: "Revert a thread's merged changes",
	Long: `Revert the commit recorded for a thread. If later threads touched
overlapping lines the document is left untouched and a resolution thread
is created instead.

Examples:
  harlowe undo doc.md 3fa9c1d2`,
	Args: cobra.ExactArgs(2),
	RunE: runUndo,
}

var redoCmd = &cobra.Command{
	Use:   "redo <file> [thread-id]",
	Short: "Re-apply a previously undone thread",
	Long: `Revert a thread's revert, restoring its changes. Without a thread
id the most recently undone thread is redone.

Examples:
  harlowe redo doc.md
  harlowe redo doc.md 3fa9c1d2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRedo,
}

func init() {
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.manager.Shutdown()

	t, err := s.findThread(args[1])
	if err != nil {
		return err
	}

	engine := undo.New(s.store, s.manager, s.coordinator, s.logger)
	engine.Undo(t)
	s.save()

	printTranscriptTail(t)
	return nil
}

func runRedo(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.manager.Shutdown()

	engine := undo.New(s.store, s.manager, s.coordinator, s.logger)

	if len(args) == 2 {
		t, err := s.findThread(args[1])
		if err != nil {
			return err
		}
		engine.Redo(t)
		s.save()
		printTranscriptTail(t)
		return nil
	}

	engine.Redo(nil)
	s.save()
	return nil
}
