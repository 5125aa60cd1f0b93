package tui

import (
	"fmt"

	"docharvest/pkg/cancel"
	"docharvest/pkg/progress"

	tea "github.com/charmbracelet/bubbletea"
)

// TUI represents the terminal user interface
type TUI struct {
	program *tea.Program
	model   *Model
}

// NewTUI creates a TUI observing one run. Quitting sets token.
func NewTUI(title string, token *cancel.Token, opts ...tea.ProgramOption) *TUI {
	model := NewModel(title, token)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}

	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Start runs the TUI until the run finishes or the user leaves
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// Model returns the underlying model.
func (t *TUI) Model() *Model {
	return t.model
}

// Progress returns a callback forwarding reports to the TUI.
func (t *TUI) Progress() progress.Func {
	return func(percent float64, message string) {
		t.Send(ProgressMsg{Percent: percent, Message: message})
	}
}

// UpdateRateLimit updates the API budget panel
func (t *TUI) UpdateRateLimit(used, max int) {
	t.Send(RateLimitUpdateMsg{Used: used, Max: max})
}

// Finish tells the TUI the run returned. The program exits afterwards.
func (t *TUI) Finish(summary string, err error) {
	t.Send(DoneMsg{Summary: summary, Err: err})
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// LogInfo logs an info message
func (t *TUI) LogInfo(format string, args ...interface{}) {
	t.Log("INFO", format, args...)
}

// LogWarning logs a warning message
func (t *TUI) LogWarning(format string, args ...interface{}) {
	t.Log("WARN", format, args...)
}
