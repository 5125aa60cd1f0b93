package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette colors are named by what they signal, not by hue.
var (
	colorAccent = lipgloss.Color("#00FFFF")
	colorFrame  = lipgloss.Color("#FF00FF")
	colorOK     = lipgloss.Color("#39FF14")
	colorValue  = lipgloss.Color("#FFFF00")
	colorWarn   = lipgloss.Color("#FF6700")
	colorFail   = lipgloss.Color("#FF0000")
	colorBg     = lipgloss.Color("#0A0E27")
	colorPanel  = lipgloss.Color("#1A1E37")
	colorText   = lipgloss.Color("#B0B0B0")
	colorMuted  = lipgloss.Color("#626262")
	colorTrack  = lipgloss.Color("#333333")
)

var (
	screenStyle = lipgloss.NewStyle().Background(colorBg).Foreground(colorText)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(1, 0).
			Align(lipgloss.Center)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFrame).
			Background(colorPanel).
			Padding(1, 2)

	panelTitleStyle = lipgloss.NewStyle().
			Background(colorFrame).
			Foreground(colorBg).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	valueStyle = lipgloss.NewStyle().Foreground(colorValue)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	trackStyle = lipgloss.NewStyle().Foreground(colorTrack)
	textStyle  = lipgloss.NewStyle().Foreground(colorText)

	okStyle   = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(colorFail).Bold(true)

	keysStyle = lipgloss.NewStyle().Foreground(colorMuted).Padding(1, 0, 0, 2)
)

// levelColor maps a log level to the color its tag is drawn in.
func levelColor(level string) lipgloss.Color {
	switch level {
	case "ERROR":
		return colorFail
	case "WARN":
		return colorWarn
	case "SUCCESS":
		return colorOK
	default:
		return colorAccent
	}
}

// percentStyle colors the run percentage as it approaches completion.
func percentStyle(percent float64) lipgloss.Style {
	switch {
	case percent >= 80:
		return lipgloss.NewStyle().Foreground(colorOK)
	case percent >= 50:
		return lipgloss.NewStyle().Foreground(colorValue)
	case percent >= 30:
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Foreground(colorFrame)
	}
}

// budgetStyle colors hourly API usage. At 90% the budget starts refusing
// requests once the remaining quota is small, so that band is drawn as a
// failure.
func budgetStyle(usage float64) lipgloss.Style {
	switch {
	case usage >= 90:
		return lipgloss.NewStyle().Foreground(colorFail)
	case usage >= 70:
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Foreground(colorOK)
	}
}

// stateBadge renders the headline of the run panel for states other than
// running.
func stateBadge(state RunState, failed bool) string {
	switch {
	case state == RunCancelling:
		return warnStyle.Render("⏸  CANCELLING")
	case state == RunDone && failed:
		return failStyle.Render("✗ FAILED")
	case state == RunDone:
		return okStyle.Render("✓ DONE")
	}
	return ""
}
