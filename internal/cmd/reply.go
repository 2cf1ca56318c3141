package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/style"
	"github.com/soapko/harlowe/internal/thread"
)

var replyCmd = &cobra.Command{
	Use:   "reply <file> <thread-id> <message>",
	Short: "Send a follow-up message to a thread",
	Long: `Continue the conversation in an existing thread. Completed threads
are reopened automatically; failed threads cannot be continued.

Examples:
  harlowe reply doc.md 3fa9c1d2 "keep the second paragraph as it was"`,
	Args: cobra.ExactArgs(3),
	RunE: runReply,
}

func init() {
	rootCmd.AddCommand(replyCmd)
}

func runReply(cmd *cobra.Command, args []string) error {
	documentPath, idPrefix, message := args[0], args[1], args[2]

	s, err := openSession(documentPath)
	if err != nil {
		return err
	}
	defer s.manager.Shutdown()

	t, err := s.findThread(idPrefix)
	if err != nil {
		return err
	}

	before := t.MessageCount()
	if err := s.manager.SendMessage(t, message); err != nil {
		return err
	}
	fmt.Printf("%s follow-up sent to thread %s\n", style.ArrowPrefix, t.ID[:8])

	s.manager.WaitForAll()
	s.save()

	// Print the new assistant response.
	for _, msg := range t.Messages[before:] {
		if msg.Role == thread.RoleAssistant {
			fmt.Println(msg.Content)
		}
	}

	if t.GetStatus() == thread.StatusFailed {
		return fmt.Errorf("thread failed: %s", t.Error)
	}
	return nil
}
