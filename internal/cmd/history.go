package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/style"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <file>",
	Short: "Show the document's version history",
	Long: `List the document's commit history, newest first, with thread
attribution for merge commits.

Examples:
  harlowe history doc.md
  harlowe history doc.md --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum commits to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.manager.Shutdown()

	if !s.store.Available() {
		return fmt.Errorf("version control unavailable for this document")
	}

	commits := s.store.History(historyLimit)
	if len(commits) == 0 {
		fmt.Println(style.Dim.Render("no history"))
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "COMMIT", Width: 8},
		style.Column{Name: "WHEN", Width: 16},
		style.Column{Name: "THREAD", Width: 10},
		style.Column{Name: "MESSAGE", Width: 40},
	)

	for _, info := range commits {
		threadID := ""
		if info.ThreadID != "" {
			threadID = info.ThreadID
			if len(threadID) > 8 {
				threadID = threadID[:8]
			}
		}

		subject := strings.SplitN(info.Message, "\n", 2)[0]
		if info.IsRevert {
			subject = style.Warning.Render(subject)
		}

		table.AddRow(
			info.Hash[:8],
			info.Timestamp.Format("2006-01-02 15:04"),
			threadID,
			subject,
		)
	}

	fmt.Print(table.Render())
	return nil
}
