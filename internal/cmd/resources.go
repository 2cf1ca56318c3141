package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soapko/harlowe/internal/resources"
	"github.com/soapko/harlowe/internal/style"
)

var resourcesSet string

var resourcesCmd = &cobra.Command{
	Use:   "resources <file>",
	Short: "Show or set the document's reference files",
	Long: `Reference files are copied read-only into every workspace and
included in assistant prompts as reference documentation.

Examples:
  harlowe resources doc.md
  harlowe resources doc.md --set style.md,glossary.md
  harlowe resources doc.md --set ""`,
	Args: cobra.ExactArgs(1),
	RunE: runResources,
}

func init() {
	rootCmd.AddCommand(resourcesCmd)
	resourcesCmd.Flags().StringVar(&resourcesSet, "set", "", "Comma-separated resource files (empty clears)")
}

func runResources(cmd *cobra.Command, args []string) error {
	m := resources.NewManager(args[0])

	if cmd.Flags().Changed("set") {
		var files []string
		for _, f := range strings.Split(resourcesSet, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
		m.SetResources(files)
		fmt.Printf("%s %d resource file(s) set\n", style.SuccessPrefix, len(files))
		return nil
	}

	current := m.Resources()
	if len(current) == 0 {
		fmt.Println(style.Dim.Render("no resource files associated"))
	} else {
		for _, f := range current {
			fmt.Printf("%s %s\n", style.ArrowPrefix, f)
		}
	}

	if available := m.AvailableMarkdownFiles(); len(available) > 0 {
		fmt.Println(style.Dim.Render(fmt.Sprintf("%d other markdown file(s) in this directory", len(available))))
	}
	return nil
}
