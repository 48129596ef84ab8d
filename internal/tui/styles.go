package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorPrimary = "6"
	colorSuccess = "2"
	colorWarning = "3"
	colorError   = "1"
	colorInfo    = "4"
	colorText    = "15"
	colorMuted   = "8"
	colorAccent  = "11"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorPrimary)).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorInfo))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(colorSuccess))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorError))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorMuted))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorWarning))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorSuccess))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorAccent)).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorMuted)).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			Padding(0, 1)
)
