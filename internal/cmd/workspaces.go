package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/config"
	"github.com/soapko/harlowe/internal/style"
	"github.com/soapko/harlowe/internal/workspace"
)

var workspacesClean bool

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List or clean up assistant workspaces",
	Long: `List the ephemeral workspace directories currently on disk.
Live sessions clean up after themselves; anything listed here was
preserved for debugging or leaked by a crash.

Examples:
  harlowe workspaces
  harlowe workspaces --clean`,
	Args: cobra.NoArgs,
	RunE: runWorkspaces,
}

func init() {
	rootCmd.AddCommand(workspacesCmd)
	workspacesCmd.Flags().BoolVar(&workspacesClean, "clean", false, "Remove all workspaces regardless of age")
}

func runWorkspaces(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if workspacesClean {
		n := workspace.CleanupOrphans(cfg.WorkspaceRoot, 0)
		fmt.Printf("%s removed %d workspace(s)\n", style.SuccessPrefix, n)
		return nil
	}

	dirs := workspace.ListActive(cfg.WorkspaceRoot)
	if len(dirs) == 0 {
		fmt.Println(style.Dim.Render("no workspaces on disk"))
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "WORKSPACE", Width: 48},
		style.Column{Name: "SIZE", Width: 10},
	)
	for _, dir := range dirs {
		table.AddRow(filepath.Base(dir), fmt.Sprintf("%d B", workspace.Size(dir)))
	}
	fmt.Print(table.Render())

	fmt.Println(style.Dim.Render(fmt.Sprintf("swept automatically after %s; --clean removes now", 24*time.Hour)))
	return nil
}
