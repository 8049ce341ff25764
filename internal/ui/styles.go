package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/lance13c/casepilot/internal/types"
)

// Styles holds all the styling for the run view
type Styles struct {
	Header     lipgloss.Style
	Subtle     lipgloss.Style
	Footer     lipgloss.Style
	Code       lipgloss.Style
	ErrorText  lipgloss.Style
	ErrorBox   lipgloss.Style
	SuccessBox lipgloss.Style
	StoppedBox lipgloss.Style

	status map[types.StepStatus]lipgloss.Style
}

// NewStyles creates a new styles instance
func NewStyles() *Styles {
	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 2).
			MarginBottom(1),

		Subtle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")),

		Footer: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginTop(1),

		Code: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#874BFD")),

		ErrorText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")),

		ErrorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF5F87")).
			Foreground(lipgloss.Color("#FF5F87")).
			Padding(0, 2),

		SuccessBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#04B575")).
			Foreground(lipgloss.Color("#04B575")).
			Padding(0, 2),

		StoppedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FFB86C")).
			Foreground(lipgloss.Color("#FFB86C")).
			Padding(0, 2),

		status: map[types.StepStatus]lipgloss.Style{
			types.StepPending: lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
			types.StepRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Bold(true),
			types.StepSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
			types.StepFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true),
			types.StepSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		},
	}
}

// Status returns the style for a step status
func (s *Styles) Status(status types.StepStatus) lipgloss.Style {
	if st, ok := s.status[status]; ok {
		return st
	}
	return s.Subtle
}

// Outcome returns the box used for a finished case
func (s *Styles) Outcome(status types.CaseStatus) lipgloss.Style {
	switch status {
	case types.CaseCompleted:
		return s.SuccessBox
	case types.CaseStopped:
		return s.StoppedBox
	default:
		return s.ErrorBox
	}
}

// statusIcons mark each step in both the interactive and plain output
var statusIcons = map[types.StepStatus]string{
	types.StepPending: "○",
	types.StepRunning: "●",
	types.StepSuccess: "✓",
	types.StepFailed:  "✗",
	types.StepSkipped: "↷",
}

// Icon returns the glyph for a step status
func Icon(status types.StepStatus) string {
	if icon, ok := statusIcons[status]; ok {
		return icon
	}
	return "?"
}
