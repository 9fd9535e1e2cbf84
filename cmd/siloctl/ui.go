// Rendering helpers for siloctl's terminal output, adapted from
// getployz-ployz's cmd/ployz/ui package: a small palette of lipgloss styles
// plus a bordered table renderer, rather than hand-rolled fmt.Printf column
// widths.
package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	uiPurple = lipgloss.Color("99")
	uiGreen  = lipgloss.Color("76")
	uiRed    = lipgloss.Color("204")
	uiYellow = lipgloss.Color("214")
	uiDim    = lipgloss.Color("243")
	uiFaint  = lipgloss.Color("238")
)

var (
	uiAccentStyle = lipgloss.NewStyle().Foreground(uiPurple)
	uiWarnStyle   = lipgloss.NewStyle().Foreground(uiYellow)
	uiErrorStyle  = lipgloss.NewStyle().Foreground(uiRed)
	uiMutedStyle  = lipgloss.NewStyle().Foreground(uiDim)
)

func uiMuted(s string) string { return uiMutedStyle.Render(s) }

func uiWarnMsg(format string, a ...any) string {
	return uiWarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func uiErrorMsg(format string, a ...any) string {
	return uiErrorStyle.Render("x") + " " + fmt.Sprintf(format, a...)
}

func uiInfoMsg(format string, a ...any) string {
	return uiAccentStyle.Render("*") + " " + fmt.Sprintf(format, a...)
}

// uiTable renders a styled, rounded-border table the way cmd/ployz/ui.Table
// does, striping rows for readability in a terminal.
func uiTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(uiPurple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(uiDim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(uiFaint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
