package tui

import "github.com/charmbracelet/lipgloss"

// Shared colors.
var (
	AccentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	DimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	WarnColor   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	GreenColor  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
)

// Shared styles.
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(AccentColor).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(WarnColor).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	LabelStyle = lipgloss.NewStyle().
			Foreground(DimColor).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Bold(true)

	WarnValueStyle = lipgloss.NewStyle().
			Foreground(WarnColor).
			Bold(true)

	GoodValueStyle = lipgloss.NewStyle().
			Foreground(GreenColor).
			Bold(true)

	SectionStyle = lipgloss.NewStyle().
			Foreground(AccentColor).
			Bold(true).
			MarginTop(1)
)
