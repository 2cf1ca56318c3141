package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/sessionlog"
	"github.com/soapko/harlowe/internal/style"
	"github.com/soapko/harlowe/internal/thread"
)

var commentLines string

var commentCmd = &cobra.Command{
	Use:   "comment <file> <request>",
	Short: "Start an assistant thread on a text selection",
	Long: `Start a new comment thread: the assistant runs in an isolated
workspace against the selected lines and its changes merge back into the
document through the conflict-checked gate.

Examples:
  harlowe comment doc.md "tighten this paragraph" --lines 10-14
  harlowe comment doc.md "restructure the whole document"`,
	Args: cobra.ExactArgs(2),
	RunE: runComment,
}

func init() {
	rootCmd.AddCommand(commentCmd)
	commentCmd.Flags().StringVar(&commentLines, "lines", "", "Selected line range, e.g. 10-14 (omit for the whole document)")
}

func runComment(cmd *cobra.Command, args []string) error {
	documentPath, request := args[0], args[1]

	lineStart, lineEnd, err := parseLineRange(commentLines)
	if err != nil {
		return err
	}

	s, err := openSession(documentPath)
	if err != nil {
		return err
	}
	defer s.manager.Shutdown()

	// First thread of the session: checkpoint so there is a known-good
	// state to come back to.
	if hash := s.store.Checkpoint(); hash != "" {
		s.logger.Log(sessionlog.EventCheckpoint, "", hash[:8])
	}

	selected := selectedText(documentPath, lineStart, lineEnd)

	t := s.manager.CreateThread(selected, request, lineStart, lineEnd)
	fmt.Printf("%s thread %s started\n", style.ArrowPrefix, t.ID[:8])

	s.manager.WaitForAll()
	s.save()

	printTranscriptTail(t)

	if t.GetStatus() == thread.StatusFailed {
		return fmt.Errorf("thread failed: %s", t.Error)
	}
	return nil
}

// parseLineRange parses "start-end" into a 1-indexed inclusive range;
// empty means document-scoped (0,0).
func parseLineRange(spec string) (int, int, error) {
	if spec == "" {
		return 0, 0, nil
	}
	start, end, found := strings.Cut(spec, "-")
	if !found {
		n, err := strconv.Atoi(start)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid line range %q", spec)
		}
		return n, n, nil
	}
	a, err1 := strconv.Atoi(start)
	b, err2 := strconv.Atoi(end)
	if err1 != nil || err2 != nil || a < 1 || b < a {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	return a, b, nil
}

// selectedText snapshots the selected lines at thread creation.
func selectedText(documentPath string, lineStart, lineEnd int) string {
	if lineStart == 0 && lineEnd == 0 {
		return ""
	}
	data, err := os.ReadFile(documentPath) //nolint:gosec // G304: the document being edited
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if lineStart > len(lines) {
		return ""
	}
	if lineEnd > len(lines) {
		lineEnd = len(lines)
	}
	return strings.Join(lines[lineStart-1:lineEnd], "\n")
}

// printTranscriptTail shows every assistant response and status
// annotation in the thread's transcript.
func printTranscriptTail(t *thread.Thread) {
	for _, msg := range t.Messages {
		switch {
		case msg.IsSystem:
			fmt.Println(style.Dim.Render(msg.Content))
		case msg.Role == thread.RoleAssistant:
			fmt.Println(msg.Content)
		}
	}
}
