// harlowe coordinates concurrent AI-assistant edits to markdown documents.
package main

import (
	"os"

	"github.com/soapko/harlowe/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
