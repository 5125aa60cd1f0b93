package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressDisplayNonInteractive(t *testing.T) {
	var buf bytes.Buffer
	d := NewProgressDisplay(&buf, "acme", false)

	report := d.Func()
	report(0, "Scanning acme")
	report(10, "Scanning acme")
	report(50, "Downloading")
	report(-1, "boom")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Scanning acme"), "repeated messages are printed once")
	assert.Contains(t, out, "[ 50.0%] Downloading")
	assert.Contains(t, out, "boom")
	assert.Equal(t, 1, d.errors)
}

func TestCalculateETA(t *testing.T) {
	d := NewProgressDisplay(&bytes.Buffer{}, "x", false)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	d.startTime = start
	d.now = func() time.Time { return start.Add(30 * time.Second) }

	assert.Equal(t, "calculating...", d.calculateETA())

	d.percent = 25
	assert.Equal(t, "1m 30s", d.calculateETA())

	d.percent = 100
	assert.Equal(t, "done", d.calculateETA())
}

func TestPrintProgressLine(t *testing.T) {
	var buf bytes.Buffer
	d := NewProgressDisplay(&buf, "acme", false)
	d.width = 60
	d.percent = 50
	d.message = strings.Repeat("m", 200)
	d.printProgress()

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r"))
	assert.Contains(t, out, "━━━━━━━━━━──────────")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, strings.Repeat("m", 100))
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    []string
	}{
		{
			name:    "completed organization",
			summary: Summary{Status: "completed", Files: 4, Repositories: 2, Bytes: 2048, APIUsed: 1200, APILimit: 5000},
			want:    []string{"4 files from 2 repositories", "2.0 kB", "1,200 of 5,000 API requests"},
		},
		{
			name:    "cancelled crawl",
			summary: Summary{Status: "cancelled", Pages: 3, Failed: 1},
			want:    []string{"Cancelled, kept 3 pages", "1 items failed"},
		},
		{
			name:    "failed repository",
			summary: Summary{Status: "failed", Label: "acme/alpha"},
			want:    []string{"Failed after 0 files (acme/alpha)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			d := NewProgressDisplay(&buf, "x", false)
			d.Complete(tt.summary)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "", truncate("abc", -4))
}

type recordingSender struct {
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func TestNotifierRunFinished(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{err: errors.New("no notification daemon")}
	n := NewNotifierWithSender(sender, &buf)

	n.RunFinished(Summary{Status: "completed", Files: 7})
	n.RunFinished(Summary{Status: "failed", Pages: 2})
	n.RunFinished(Summary{Status: "cancelled", Files: 1})

	require.Len(t, sender.messages, 3)
	assert.Equal(t, "Collected 7 files", sender.messages[0])
	assert.Equal(t, "Failed after 2 pages", sender.messages[1])
	assert.Equal(t, "Cancelled, kept 1 files", sender.messages[2])
	assert.Contains(t, buf.String(), "Collected 7 files")
}

func TestNotifierWithoutSenderPrints(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifierWithSender(nil, &buf)
	n.SendSuccess("docharvest", "done")
	assert.Contains(t, buf.String(), "done")
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer
	old := Output
	Output = &buf
	defer func() { Output = old }()

	PrintError("load failed", errors.New("disk"))
	PrintInfo("Task", "repository_1")
	PrintWarning("slow")

	out := buf.String()
	assert.Contains(t, out, "load failed: disk")
	assert.Contains(t, out, "repository_1")
	assert.Contains(t, out, "slow")
}

func TestNotifyCommand(t *testing.T) {
	name, args, ok := notifyCommand("linux", "docharvest", "done")
	require.True(t, ok)
	assert.Equal(t, "notify-send", name)
	assert.Equal(t, []string{"docharvest", "done"}, args)

	name, args, ok = notifyCommand("darwin", "docharvest", `say "hi"`)
	require.True(t, ok)
	assert.Equal(t, "osascript", name)
	assert.Contains(t, args[1], `display notification "say \"hi\""`)

	_, args, ok = notifyCommand("windows", "it's", "done")
	require.True(t, ok)
	assert.Contains(t, args[len(args)-1], "'it''s'")

	_, _, ok = notifyCommand("plan9", "t", "m")
	assert.False(t, ok)
}
