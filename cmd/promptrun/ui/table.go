package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table is a static, column-aligned listing for terminal output. Cells past
// the last header are dropped and short rows are padded with blanks.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string

	align []lipgloss.Position
}

// NewTable creates a table whose columns are all left aligned.
func NewTable(title string, headers ...string) *Table {
	align := make([]lipgloss.Position, len(headers))
	for i := range align {
		align[i] = lipgloss.Left
	}
	return &Table{Title: title, Headers: headers, align: align}
}

// AlignRight right-aligns the given columns, for counts and exit codes.
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		if c >= 0 && c < len(t.align) {
			t.align[c] = lipgloss.Right
		}
	}
	return t
}

// AddRow appends one row.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.Headers))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// widths returns each column's width including one cell of padding per side.
func (t *Table) widths() []int {
	w := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		w[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			w[i] = max(w[i], lipgloss.Width(cell))
		}
	}
	for i := range w {
		w[i] += 2
	}
	return w
}

// Render lays the table out with styles. An empty table still shows its headers.
func (t *Table) Render(styles Styles) string {
	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteByte('\n')
	}
	if len(t.Headers) == 0 {
		return sb.String()
	}

	widths := t.widths()
	sep := styles.Muted.Render("|")

	line := func(cells []string, base lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = base.Width(widths[i]).Align(t.align[i]).Render(cell)
		}
		sb.WriteString(strings.Join(parts, sep))
		sb.WriteByte('\n')
	}

	line(t.Headers, styles.Bold.Padding(0, 1))

	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	sb.WriteString(styles.Muted.Render(strings.Join(rule, "+")))
	sb.WriteByte('\n')

	body := styles.Body.Padding(0, 1)
	for _, row := range t.Rows {
		line(row, body)
	}
	return sb.String()
}
