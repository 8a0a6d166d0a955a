package grid

import "github.com/charmbracelet/lipgloss"

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	errorColor   = lipgloss.Color("196")
	warningColor = lipgloss.Color("214")

	titleBarStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	indexStyle       = lipgloss.NewStyle().Foreground(mutedColor)
	pendingStyle     = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	selectedRowStyle = lipgloss.NewStyle().Background(lipgloss.Color("237")).Bold(true)
	statusStyle      = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle       = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	subtleStyle      = lipgloss.NewStyle().Foreground(mutedColor)
)
