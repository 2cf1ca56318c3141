package style

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// Column defines a table column with name and width.
type Column struct {
	Name  string
	Width int
}

// Table provides styled table rendering for CLI listings.
type Table struct {
	columns []Column
	rows    [][]string
	indent  string
}

// NewTable creates a new table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns: columns,
		indent:  "  ",
	}
}

// AddRow adds a row of values to the table.
func (t *Table) AddRow(values ...string) *Table {
	// Pad with empty strings if needed
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
	return t
}

// Render returns the formatted table string.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	cols := t.fitColumns()

	var sb strings.Builder

	// Header
	sb.WriteString(t.indent)
	for i, col := range cols {
		sb.WriteString(pad(Bold.Render(col.Name), col.Name, col.Width))
		if i < len(cols)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")

	// Separator
	totalWidth := len(cols) - 1
	for _, col := range cols {
		totalWidth += col.Width
	}
	sb.WriteString(t.indent)
	sb.WriteString(Dim.Render(strings.Repeat("─", totalWidth)))
	sb.WriteString("\n")

	// Rows
	for _, row := range t.rows {
		sb.WriteString(t.indent)
		for i, col := range cols {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			if len(val) > col.Width && col.Width > 3 {
				val = val[:col.Width-3] + "..."
			}
			sb.WriteString(pad(val, val, col.Width))
			if i < len(cols)-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// fitColumns shrinks the widest column until the table fits the terminal.
func (t *Table) fitColumns() []Column {
	width := terminalWidth()
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)

	total := func() int {
		w := len(t.indent) + len(cols) - 1
		for _, c := range cols {
			w += c.Width
		}
		return w
	}

	for total() > width {
		widest := 0
		for i := range cols {
			if cols[i].Width > cols[widest].Width {
				widest = i
			}
		}
		if cols[widest].Width <= 8 {
			break
		}
		cols[widest].Width--
	}

	return cols
}

// terminalWidth returns the terminal width, defaulting to 80 when stdout
// is not a terminal.
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// pad right-pads rendered text based on the plain text's display width.
func pad(rendered, plain string, width int) string {
	if len(plain) >= width {
		return rendered
	}
	return rendered + strings.Repeat(" ", width-len(plain))
}
