package utils

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)
}

var (
	RedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#cc0000"))
	OrangeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff7c28"))
	YellowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#cc9500"))
	GreenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06cc00"))
	LightBlueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3cc5ff"))
	GrayStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#adadad"))

	executionStateStyles = map[messaging.ExecutionState]lipgloss.Style{
		messaging.ExecutionStateStarting:   LightBlueStyle,
		messaging.ExecutionStateIdle:       GreenStyle,
		messaging.ExecutionStateBusy:       YellowStyle,
		messaging.ExecutionStateRestarting: OrangeStyle,
		messaging.ExecutionStateDead:       RedStyle,
	}
)

// ExecutionStateStyle returns the style in which an execution state is printed.
func ExecutionStateStyle(state messaging.ExecutionState) lipgloss.Style {
	if style, ok := executionStateStyles[state]; ok {
		return style
	}
	return GrayStyle
}
