package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/style"
	"github.com/soapko/harlowe/internal/thread"
)

var threadsAll bool

var threadsCmd = &cobra.Command{
	Use:   "threads <file>",
	Short: "List the document's comment threads",
	Long: `List comment threads for a document. By default only active and
pending threads are shown; --all includes completed and failed ones.

Examples:
  harlowe threads doc.md
  harlowe threads doc.md --all`,
	Args: cobra.ExactArgs(1),
	RunE: runThreads,
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.Flags().BoolVar(&threadsAll, "all", false, "Include completed and failed threads")
}

func runThreads(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.manager.Shutdown()

	threads := s.manager.Threads()
	if len(threads) == 0 {
		fmt.Println(style.Dim.Render("no threads"))
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "ID", Width: 10},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "LINES", Width: 9},
		style.Column{Name: "MSGS", Width: 5},
		style.Column{Name: "REQUEST", Width: 44},
	)

	shown := 0
	for _, t := range threads {
		status := t.GetStatus()
		if !threadsAll && (status == thread.StatusCompleted || status == thread.StatusFailed) {
			continue
		}
		shown++

		lines := "doc"
		if !t.DocumentScoped() {
			lines = fmt.Sprintf("%d-%d", t.LineStart, t.LineEnd)
		}

		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		if t.IsSystemThread() {
			id += "*"
		}

		table.AddRow(id, renderStatus(status), lines,
			fmt.Sprintf("%d", t.MessageCount()), t.InitialRequest)
	}

	if shown == 0 {
		fmt.Println(style.Dim.Render("no open threads (use --all to include closed ones)"))
		return nil
	}

	fmt.Print(table.Render())
	return nil
}

func renderStatus(s thread.Status) string {
	switch s {
	case thread.StatusActive:
		return style.Success.Render(string(s))
	case thread.StatusFailed:
		return style.Error.Render(string(s))
	case thread.StatusPending:
		return style.Info.Render(string(s))
	default:
		return style.Dim.Render(string(s))
	}
}
