package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// TreeWidthPct is the percentage of terminal width used for the tree pane.
const TreeWidthPct = 60

func renderTopBar(title string, windows []int, current int, tabs int, connected bool, width int) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Underline(true)
	inactiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var names string
	for i, id := range windows {
		if i > 0 {
			names += inactiveStyle.Render(" │ ")
		}
		name := fmt.Sprintf("Window %d", id)
		if id == current {
			names += activeStyle.Render(name)
		} else {
			names += inactiveStyle.Render(name)
		}
	}
	if len(windows) == 0 {
		names = inactiveStyle.Render("no windows")
	}

	left := " " + names + "   " + statsStyle.Render(fmt.Sprintf("%d tabs", tabs))

	status := title
	if connected {
		status += " ● connected"
	} else {
		status += " ○ waiting for extension"
	}
	right := statsStyle.Render(status)

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	padding := lipgloss.NewStyle().Width(gap)
	return left + padding.Render("") + right + " "
}
