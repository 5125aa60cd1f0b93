package tui

import (
	"sync"
	"time"

	"docharvest/pkg/cancel"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RunState is where the observed run currently is.
type RunState int

const (
	RunActive RunState = iota
	RunCancelling
	RunDone
)

// Model represents the TUI model
type Model struct {
	// UI components
	spinner spinner.Model
	bar     progress.Model

	title string
	token *cancel.Token

	// Run state
	state     RunState
	percent   float64
	message   string
	errors    int
	summary   string
	runErr    error
	startTime time.Time
	now       func() time.Time

	// Rate limiting
	rateLimitMax  int
	rateLimitUsed int

	// UI state
	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int

	mu sync.RWMutex
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a model observing one run. Quitting sets token.
func NewModel(title string, token *cancel.Token) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorAccent)

	return &Model{
		spinner:        s,
		bar:            progress.New(progress.WithGradient(string(colorFrame), string(colorOK))),
		title:          title,
		token:          token,
		startTime:      time.Now(),
		now:            time.Now,
		logMessages:    []LogMessage{},
		maxLogMessages: 50,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// SetProgress records one progress report. A negative percent counts as an
// error and leaves the bar where it was.
func (m *Model) SetProgress(percent float64, message string) {
	if percent < 0 {
		m.mu.Lock()
		m.errors++
		m.mu.Unlock()
		m.AddLogMessage("ERROR", message)
		return
	}

	m.mu.Lock()
	changed := message != m.message
	m.percent = percent
	m.message = message
	m.mu.Unlock()

	if changed {
		m.AddLogMessage("INFO", message)
	}
}

// Percent returns the last reported percent.
func (m *Model) Percent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.percent
}

// State returns the run state.
func (m *Model) State() RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Cancel asks the run to stop. Only the first call has an effect.
func (m *Model) Cancel() {
	m.mu.Lock()
	if m.state != RunActive {
		m.mu.Unlock()
		return
	}
	m.state = RunCancelling
	m.mu.Unlock()

	m.token.Set()
	m.AddLogMessage("WARN", "Cancelling, waiting for in-flight work")
}

// Finish marks the run as over.
func (m *Model) Finish(summary string, err error) {
	m.mu.Lock()
	m.state = RunDone
	m.summary = summary
	m.runErr = err
	m.mu.Unlock()

	if err != nil {
		m.AddLogMessage("ERROR", err.Error())
		return
	}
	m.AddLogMessage("SUCCESS", summary)
}

// UpdateRateLimit updates the API budget usage
func (m *Model) UpdateRateLimit(used, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rateLimitUsed = used
	m.rateLimitMax = max
}

// AddLogMessage adds a message to the log
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    m.now(),
		Level:   level,
		Message: message,
		Color:   levelColor(level),
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Logs returns a copy of the log messages.
func (m *Model) Logs() []LogMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LogMessage, len(m.logMessages))
	copy(out, m.logMessages)
	return out
}

// eta extrapolates elapsed time over the remaining percent
func (m *Model) eta() time.Duration {
	if m.percent <= 0 || m.percent >= 100 {
		return 0
	}
	elapsed := m.now().Sub(m.startTime)
	return time.Duration(float64(elapsed) * (100 - m.percent) / m.percent)
}
