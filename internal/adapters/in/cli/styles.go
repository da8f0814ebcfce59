package cli

import "github.com/charmbracelet/lipgloss"

// theme holds the composed styles for CLI output.
var theme = struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}
