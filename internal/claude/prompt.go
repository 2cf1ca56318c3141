package claude

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/soapko/harlowe/internal/thread"
)

// referenceBlock renders the configured resource files as a reference
// documentation section. Unreadable files are skipped.
func referenceBlock(resourceFiles []string) string {
	if len(resourceFiles) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("REFERENCE DOCUMENTATION:")
	for _, rf := range resourceFiles {
		content, err := os.ReadFile(rf) //nolint:gosec // G304: user-configured reference files
		if err != nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n\n--- %s ---\n", filepath.Base(rf)))
		sb.Write(content)
		sb.WriteString("\n--- End of reference ---\n")
	}
	sb.WriteString("\n\n")
	return sb.String()
}

// InitialPrompt builds the prompt for a thread's first invocation. The
// workspace filename is used, never the live document path.
func InitialPrompt(t *thread.Thread, workspaceFileName string, resourceFiles []string) string {
	var sb strings.Builder
	sb.WriteString(referenceBlock(resourceFiles))

	sb.WriteString(fmt.Sprintf(`You are assisting with editing a markdown file in Harlowe, a markdown editor.

File: %s
Selected Text (lines %d-%d):
"""
%s
"""

User Request: %s

You have access to the following tools to make changes:
- Read: View file contents
- Edit: Make precise edits to the file
- Write: Rewrite entire file (use sparingly)
- Grep/Glob: Search for content

Please make the requested changes to the file. You can ask clarifying questions if needed.
The user will be able to see your responses and continue the conversation.`,
		workspaceFileName, t.LineStart, t.LineEnd, t.SelectedText, t.InitialRequest))

	return sb.String()
}

// ConversationPrompt builds the prompt for a follow-up invocation,
// carrying the full user/assistant history and ending with an open
// Assistant: turn. System annotations are not part of the conversation
// and are excluded.
func ConversationPrompt(t *thread.Thread, workspaceFileName string, resourceFiles []string) string {
	var sb strings.Builder
	sb.WriteString(referenceBlock(resourceFiles))

	sb.WriteString(fmt.Sprintf(`You are assisting with editing a markdown file in Harlowe, a markdown editor.

File: %s
Original Selected Text (lines %d-%d):
"""
%s
"""

Initial Request: %s

CONVERSATION HISTORY:`,
		workspaceFileName, t.LineStart, t.LineEnd, t.SelectedText, t.InitialRequest))

	for _, msg := range t.Messages {
		if msg.IsSystem || msg.Role == thread.RoleSystem {
			continue
		}
		label := "User"
		if msg.Role == thread.RoleAssistant {
			label = "Assistant"
		}
		sb.WriteString(fmt.Sprintf("\n%s: %s\n", label, msg.Content))
	}

	sb.WriteString("\nAssistant:")
	return sb.String()
}
