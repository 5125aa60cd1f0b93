package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"docharvest/pkg/progress"
	"docharvest/pkg/queue"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	defaultWidth = 100
	barWidth     = 20
)

// Summary is what Complete prints once a run is over.
type Summary struct {
	Label        string
	Status       string
	Files        int
	Bytes        int64
	Pages        int
	Repositories int
	Failed       int
	APIUsed      int
	APILimit     int
}

// ProgressDisplay renders progress reports as a single status line. On a
// terminal the line is redrawn in place; otherwise one line is written per
// new message so logs stay readable.
type ProgressDisplay struct {
	mu          sync.Mutex
	out         io.Writer
	label       string
	interactive bool
	width       int
	isDebug     bool
	startTime   time.Time
	now         func() time.Time
	percent     float64
	message     string
	errors      int
}

// NewProgressDisplay creates a display writing to out
func NewProgressDisplay(out io.Writer, label string, debug bool) *ProgressDisplay {
	p := &ProgressDisplay{
		out:       out,
		label:     label,
		width:     defaultWidth,
		isDebug:   debug,
		startTime: time.Now(),
		now:       time.Now,
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

// Func returns the display as a progress callback.
func (p *ProgressDisplay) Func() progress.Func {
	return p.Update
}

// Update records one progress report and redraws.
func (p *ProgressDisplay) Update(percent float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if percent < 0 {
		p.errors++
		fmt.Fprintf(p.out, "\n%s %s\n", Red("✗"), message)
		return
	}

	changed := message != p.message
	p.percent = percent
	p.message = message

	switch {
	case p.interactive && !p.isDebug:
		p.printProgress()
	case changed:
		fmt.Fprintf(p.out, "[%5.1f%%] %s\n", percent, message)
	}
}

// printProgress prints the minimal progress line
func (p *ProgressDisplay) printProgress() {
	filled := int(p.percent / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	prefix := fmt.Sprintf("%s [%s] %5.1f%% • %s • ", p.label, bar, p.percent, p.calculateETA())
	msg := truncate(p.message, p.width-len([]rune(prefix))-1)

	line := fmt.Sprintf("%s [%s] %5.1f%% • %s • %s",
		Cyan(p.label), bar, p.percent, p.calculateETA(), msg)
	if p.errors > 0 {
		line += " • " + Red(fmt.Sprintf("%d errors", p.errors))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", p.width-1), line)
}

// calculateETA extrapolates the elapsed time over the remaining percent
func (p *ProgressDisplay) calculateETA() string {
	if p.percent >= 100 {
		return "done"
	}
	if p.percent <= 0 {
		return "calculating..."
	}
	elapsed := p.now().Sub(p.startTime)
	remaining := time.Duration(float64(elapsed) * (100 - p.percent) / p.percent)
	return queue.FormatDuration(remaining)
}

// Complete prints the run summary
func (p *ProgressDisplay) Complete(s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := p.now().Sub(p.startTime)
	if p.interactive {
		fmt.Fprintln(p.out)
	}

	head := fmt.Sprintf("%s %s", Green("✓"), describe(s))
	switch s.Status {
	case "cancelled":
		head = fmt.Sprintf("%s Cancelled, kept %s", Yellow("⚠"), describe(s))
	case "failed":
		head = fmt.Sprintf("%s Failed after %s", Red("✗"), describe(s))
	}
	fmt.Fprintf(p.out, "\n%s\n", head)

	fmt.Fprintf(p.out, "  %s %s in %s\n", Dim("•"), humanize.Bytes(uint64(s.Bytes)), queue.FormatDuration(elapsed))
	if s.Failed > 0 {
		fmt.Fprintf(p.out, "  %s %d items failed\n", Dim("•"), s.Failed)
	}
	if s.APILimit > 0 {
		fmt.Fprintf(p.out, "  %s %s of %s API requests used this hour\n",
			Dim("•"), humanize.Comma(int64(s.APIUsed)), humanize.Comma(int64(s.APILimit)))
	}
}

func describe(s Summary) string {
	var what string
	switch {
	case s.Pages > 0:
		what = fmt.Sprintf("%d pages", s.Pages)
	case s.Repositories > 0:
		what = fmt.Sprintf("%d files from %d repositories", s.Files, s.Repositories)
	default:
		what = fmt.Sprintf("%d files", s.Files)
	}
	if s.Label != "" {
		what += " (" + s.Label + ")"
	}
	return what
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		if max < 0 {
			max = 0
		}
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
