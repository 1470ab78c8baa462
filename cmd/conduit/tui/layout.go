package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Pulse colors cycle through green brightness levels.
var pulseColors = []lipgloss.Color{
	"#73F59F",
	"#5FE08B",
	"#4BCC77",
	"#3FB86A",
	"#4BCC77",
	"#5FE08B",
}

// Layout provides the shared frame for every dashboard: header, body, footer.
type Layout struct {
	AppName   string
	Target    string // what is being watched, e.g. "aeron:ipc/1001"
	Connected bool
	Width     int
	Height    int
	Frame     int // incremented on each spinner tick for pulse animation
	Samples   int
}

// BodySize returns the available (width, height) for app content.
// Reserves: top pad(1) + header(1) + blank(1) + footer(1) + bottom pad(1) = 5 lines,
// and horizontal padding of 2 on each side = 4 columns.
func (l Layout) BodySize() (int, int) {
	return max(l.Width-4, 10), max(l.Height-6, 3)
}

// Render composes header, body and footer into a full frame.
func (l Layout) Render(body string, helpText string) string {
	contentWidth, bodyHeight := l.BodySize()

	var frame strings.Builder
	frame.WriteString("\n")

	// "conduit · {appName}" left, "{target} ●" right
	left := TitleStyle.Render("conduit") +
		lipgloss.NewStyle().Foreground(DimColor).Render(" · ") +
		lipgloss.NewStyle().Foreground(DimColor).Render(l.AppName)

	var right string
	if l.Target != "" {
		dot := lipgloss.NewStyle().Foreground(DimColor).Render("●")
		if l.Connected {
			c := pulseColors[l.Frame%len(pulseColors)]
			dot = lipgloss.NewStyle().Foreground(c).Bold(true).Render("●")
		}
		right = lipgloss.NewStyle().Foreground(DimColor).Render(l.Target) + " " + dot
	}

	gap := max(contentWidth-lipgloss.Width(left)-lipgloss.Width(right)-1, 1)
	frame.WriteString("  " + left + strings.Repeat(" ", gap) + right + " ")
	frame.WriteString("\n\n")

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		frame.WriteString("  " + line + "\n")
	}
	frame.WriteString(strings.Repeat("\n", max(bodyHeight-len(lines), 0)))

	frame.WriteString(HelpStyle.Render("  " + helpText))
	frame.WriteString("\n")
	return frame.String()
}
