package tui

import (
	"github.com/charmbracelet/lipgloss"

	"portcaisse/internal/desk"
	"portcaisse/internal/form"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("25")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle   = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	focusStyle   = lipgloss.NewStyle().Width(14).Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// toneStyle colours the excedent: green for an overpayment, red for a
// shortfall.
func toneStyle(t form.Tone) lipgloss.Style {
	switch t {
	case form.TonePositive:
		return successStyle
	case form.ToneNegative:
		return errorStyle
	default:
		return mutedStyle
	}
}

func noticeStyle(l desk.Level) lipgloss.Style {
	switch l {
	case desk.LevelSuccess:
		return successStyle
	case desk.LevelWarning:
		return warnStyle
	case desk.LevelError:
		return errorStyle
	default:
		return mutedStyle
	}
}
