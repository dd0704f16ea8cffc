// Package ui renders tables, badges and banners for the fmodel CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
)

// Table renders rows under a header with box-drawing borders.
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow adds a row. Missing cells are blank and extra cells are dropped.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range t.headers {
		if i < len(values) {
			row[i] = values[i]
			if w := lipgloss.Width(values[i]); w > t.widths[i] {
				t.widths[i] = w
			}
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(styles.Primary).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(styles.Text).Padding(0, 1)
	border := lipgloss.NewStyle().Foreground(styles.Border)

	var sb strings.Builder
	rule := func(left, mid, right string) {
		sb.WriteString(border.Render(left))
		for i, w := range t.widths {
			sb.WriteString(border.Render(strings.Repeat("─", w+2)))
			if i < len(t.widths)-1 {
				sb.WriteString(border.Render(mid))
			}
		}
		sb.WriteString(border.Render(right))
		sb.WriteString("\n")
	}
	line := func(style lipgloss.Style, cells []string) {
		sb.WriteString(border.Render("│"))
		for i, cell := range cells {
			sb.WriteString(style.Width(t.widths[i] + 2).Render(cell))
			sb.WriteString(border.Render("│"))
		}
		sb.WriteString("\n")
	}

	rule("┌", "┬", "┐")
	line(headerStyle, t.headers)
	rule("├", "┼", "┤")
	for _, row := range t.rows {
		line(cellStyle, row)
	}
	rule("└", "┴", "┘")

	return strings.TrimSuffix(sb.String(), "\n")
}

// StatusBadge returns a styled badge for a stage, outcome or runner state.
func StatusBadge(status string) string {
	badge := lipgloss.NewStyle().Padding(0, 1)
	switch strings.ToLower(status) {
	case "done", "applied", "running", "ok":
		badge = badge.Background(styles.Success).Foreground(lipgloss.Color("#000000"))
	case "skipped", "idle", "stopped", "pending":
		badge = badge.Background(styles.Warning).Foreground(lipgloss.Color("#000000"))
	case "failed", "conflict", "error":
		badge = badge.Background(styles.Error).Foreground(lipgloss.Color("#FFFFFF"))
	default:
		badge = badge.Background(styles.Surface).Foreground(styles.Text)
	}
	return badge.Render(status)
}

// Banner returns the one-line CLI banner.
func Banner() string {
	return lipgloss.NewStyle().Bold(true).Foreground(styles.Primary).Render("fmodel") +
		" " + styles.Muted.Render("- functional event sourcing for Go")
}

// Divider returns a horizontal divider line
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}

// NumberedList formats a numbered list
func NumberedList(items []string) string {
	var sb strings.Builder
	num := lipgloss.NewStyle().Foreground(styles.Primary).Width(4)
	for i, item := range items {
		sb.WriteString(num.Render(fmt.Sprintf("%d.", i+1)))
		sb.WriteString(styles.Normal.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}
