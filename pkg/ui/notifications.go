package ui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
)

// NotificationSender delivers a desktop notification.
type NotificationSender interface {
	Send(title, message string) error
}

// commandSender runs the platform's notification command.
type commandSender struct {
	goos string
}

func (c commandSender) Send(title, message string) error {
	name, args, ok := notifyCommand(c.goos, title, message)
	if !ok {
		return fmt.Errorf("desktop notifications are not supported on %s", c.goos)
	}
	return exec.Command(name, args...).Run()
}

// notifyCommand builds the command line that shows a notification on goos.
func notifyCommand(goos, title, message string) (string, []string, bool) {
	switch goos {
	case "linux":
		return "notify-send", []string{title, message}, true
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return "osascript", []string{"-e", script}, true
	case "windows":
		quote := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
		script := "Add-Type -AssemblyName System.Windows.Forms; " +
			"$n = New-Object System.Windows.Forms.NotifyIcon; " +
			"$n.Icon = [System.Drawing.SystemIcons]::Information; $n.Visible = $true; " +
			"$n.ShowBalloonTip(5000, " + quote(title) + ", " + quote(message) + ", 'Info'); " +
			"Start-Sleep -Seconds 6; $n.Dispose()"
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}, true
	}
	return "", nil, false
}

// Notifier prints run outcomes and mirrors them to the desktop.
type Notifier struct {
	sender NotificationSender
	out    io.Writer
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier() *Notifier {
	var sender NotificationSender
	if _, _, ok := notifyCommand(runtime.GOOS, "", ""); ok {
		sender = commandSender{goos: runtime.GOOS}
	}
	return &Notifier{sender: sender, out: Output}
}

// NewNotifierWithSender uses the given sender and writer. A nil sender only
// prints.
func NewNotifierWithSender(sender NotificationSender, out io.Writer) *Notifier {
	return &Notifier{sender: sender, out: out}
}

func (n *Notifier) notify(color func(string) string, title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", color(title), color(message))
	if n.sender != nil {
		// A missing notification daemon must not fail the run.
		_ = n.sender.Send(title, message)
	}
}

// SendNotification sends a neutral notification
func (n *Notifier) SendNotification(title, message string) {
	n.notify(Yellow, title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	n.notify(Red, title, message)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	n.notify(Green, title, message)
}

// RunFinished notifies about the outcome of a run.
func (n *Notifier) RunFinished(s Summary) {
	const title = "docharvest"
	switch s.Status {
	case "failed":
		n.SendError(title, "Failed after "+describe(s))
	case "cancelled":
		n.SendNotification(title, "Cancelled, kept "+describe(s))
	default:
		n.SendSuccess(title, "Collected "+describe(s))
	}
}
