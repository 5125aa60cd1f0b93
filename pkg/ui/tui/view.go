package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderRunPanel(m.width - 4),
	}
	if m.rateLimitMax > 0 {
		sections = append(sections, m.renderRateLimitPanel(m.width-4))
	}
	sections = append(sections, m.renderLogsPanel(m.width-4))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, keysStyle.Render("q: cancel • ?: help"))
	}

	return screenStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderHeader() string {
	return headerStyle.Width(m.width).Render("docharvest • " + m.title)
}

// renderRunPanel renders the overall progress of the run
func (m *Model) renderRunPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := panelTitleStyle.Render(" RUN ")

	status := stateBadge(m.state, m.runErr != nil)
	if status == "" {
		status = m.spinner.View() + " " + valueStyle.Render(m.message)
	}

	bar := m.bar
	bar.Width = width - 12
	if bar.Width < 10 {
		bar.Width = 10
	}

	lines := []string{
		status,
		bar.ViewAs(m.percent/100) + " " + percentStyle(m.percent).Render(fmt.Sprintf("%5.1f%%", m.percent)),
		fmt.Sprintf("%s %s   %s %s",
			labelStyle.Render("Elapsed:"), valueStyle.Render(formatDuration(m.now().Sub(m.startTime))),
			labelStyle.Render("ETA:"), valueStyle.Render(formatDuration(m.eta()))),
	}
	if m.errors > 0 {
		lines = append(lines, failStyle.Render(fmt.Sprintf("%d errors", m.errors)))
	}
	if m.summary != "" {
		lines = append(lines, okStyle.Render(m.summary))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

// renderRateLimitPanel renders the API budget usage
func (m *Model) renderRateLimitPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := panelTitleStyle.Render(" API BUDGET ")

	usage := float64(m.rateLimitUsed) / float64(m.rateLimitMax) * 100
	if usage > 100 {
		usage = 100
	}

	barWidth := width - 8
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int(usage * float64(barWidth) / 100)
	empty := barWidth - filled

	barStyle := budgetStyle(usage)
	bar := barStyle.Render(strings.Repeat("█", filled)) +
		trackStyle.Render(strings.Repeat("░", empty))

	content := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("Usage:"),
			barStyle.Render(fmt.Sprintf("%d/%d (%.0f%%)", m.rateLimitUsed, m.rateLimitMax, usage))),
		bar,
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(content, "\n")),
	)
}

// renderLogsPanel renders the stage log
func (m *Model) renderLogsPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := panelTitleStyle.Render(" LOG ")

	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	maxMsgLen := width - 25
	var logs []string
	for i := start; i < len(m.logMessages); i++ {
		log := m.logMessages[i]
		timestamp := mutedStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))

		text := log.Message
		if r := []rune(text); maxMsgLen > 3 && len(r) > maxMsgLen {
			text = string(r[:maxMsgLen-3]) + "..."
		}

		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, textStyle.Render(text)))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = mutedStyle.Render("No logs yet...")
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderHelp renders the help panel
func (m *Model) renderHelp() string {
	help := `
  Keys:
    q/ctrl+c - Cancel the run (press again to close this view)
    ctrl+l   - Clear the log
    ?        - Toggle this help

  Status Indicators:
    ` + okStyle.Render("Green") + `    - Done
    ` + warnStyle.Render("Orange") + `   - Cancelling
    ` + failStyle.Render("Red") + `      - Error
`

	return panelStyle.Width(m.width).Render(help)
}

// formatDuration formats a duration as mm:ss or hh:mm:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
