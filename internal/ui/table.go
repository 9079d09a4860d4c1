package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette shared by fleet CLI output.
var (
	ColorAccent = lipgloss.Color("6")
	ColorPass   = lipgloss.Color("2")
	ColorWarn   = lipgloss.Color("3")
	ColorFail   = lipgloss.Color("1")
	ColorMuted  = lipgloss.Color("8")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorMuted).Padding(0, 1)
	valueStyle = lipgloss.NewStyle().Padding(0, 1)

	// WarnStyle and PassStyle color individual values before they go into
	// a row, for states worth catching at a glance.
	WarnStyle = lipgloss.NewStyle().Foreground(ColorWarn)
	PassStyle = lipgloss.NewStyle().Foreground(ColorPass)
	FailStyle = lipgloss.NewStyle().Foreground(ColorFail)
)

// Row is one label/value line in a rendered report.
type Row struct {
	Label string
	Value string
}

// RenderKV renders rows as a bordered two-column table on a TTY, or as plain
// aligned text when output is piped or color is disabled.
func RenderKV(title string, rows []Row) string {
	if !ShouldUseColor() {
		return renderKVPlain(title, rows)
	}

	body := make([][]string, 0, len(rows))
	for _, r := range rows {
		body = append(body, []string{r.Label, r.Value})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Rows(body...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return labelStyle
			}
			return valueStyle
		})
	return titleStyle.Render(title) + "\n" + t.String() + "\n"
}

func renderKVPlain(title string, rows []Row) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	width := 0
	for _, r := range rows {
		if len(r.Label) > width {
			width = len(r.Label)
		}
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, r.Label, r.Value)
	}
	return b.String()
}
