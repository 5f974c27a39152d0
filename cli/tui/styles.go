// Package tui provides Bubble Tea views for the waypoint CLI.
//
// TUI mode is opt-in (--tui) and read-only. Views render the same payloads
// as the json/table/yaml output; there is no TUI-only data.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#0EA5E9") // Sky
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#8B5CF6") // Violet
)

// Styles for TUI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// RoleStyle prefixes message rows.
	RoleStyle = lipgloss.NewStyle().
			Bold(true).
			Width(10)

	// SelectedStyle marks the cursor row.
	SelectedStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(18).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// StateStyle returns a style for a run status, decision or coordinator state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "complete", "complete/stop", "approved", "idle":
		return SuccessStyle
	case "running", "requires-action", "requires-action/interrupt", "interrupted", "undecided":
		return WarningStyle
	case "incomplete/error", "incomplete/cancelled", "rejected":
		return ErrorStyle
	default:
		return ValueStyle
	}
}

// RoleColor returns the style used for a message role label.
func RoleColor(role string) lipgloss.Style {
	switch role {
	case "user":
		return RoleStyle.Foreground(primaryColor)
	case "assistant":
		return RoleStyle.Foreground(successColor)
	default:
		return RoleStyle.Foreground(mutedColor)
	}
}
