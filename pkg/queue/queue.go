// Package queue holds the FIFO download queue used by the acquisition
// pipeline, along with its throughput and ETA estimation.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const historyWindow = 20

// Status strings reported by Progress.
const (
	StatusEmpty      = "No files to process"
	StatusInProgress = "In progress"
	StatusComplete   = "Complete"
)

// FileDescriptor identifies one remote file to download.
type FileDescriptor struct {
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	Path      string `json:"path"`
	Ref       string `json:"ref"`
	SHA       string `json:"sha,omitempty"`
	Name      string `json:"name"`
	Size      int    `json:"size"`
	LocalPath string `json:"local_path"`
	URL       string `json:"url"`
}

// Progress is a snapshot of queue progress.
type Progress struct {
	Percent        float64       `json:"percent"`
	FilesProcessed int           `json:"files_processed"`
	FilesTotal     int           `json:"files_total"`
	FilesRemaining int           `json:"files_remaining"`
	Elapsed        time.Duration `json:"time_elapsed"`
	TimeRemaining  string        `json:"time_remaining"`
	Status         string        `json:"status"`
}

// Queue is a mutex-guarded FIFO of FileDescriptor. The zero value is not
// usable; call New.
type Queue struct {
	mu        sync.Mutex
	items     []FileDescriptor
	total     int
	processed int
	started   time.Time
	history   []time.Time
	now       func() time.Time
}

// New creates an empty queue
func New() *Queue {
	q := &Queue{now: time.Now}
	q.started = q.now()
	return q
}

// Reset clears all state.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.total = 0
	q.processed = 0
	q.history = nil
	q.started = q.now()
}

// Add appends one file.
func (q *Queue) Add(f FileDescriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, f)
	q.total++
}

// AddAll appends files in order.
func (q *Queue) AddAll(files []FileDescriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, files...)
	q.total += len(files)
}

// Next pops the oldest file.
func (q *Queue) Next() (FileDescriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return FileDescriptor{}, false
	}
	f := q.items[0]
	q.items[0] = FileDescriptor{}
	q.items = q.items[1:]
	return f, true
}

// NextBatch pops up to n files.
func (q *Queue) NextBatch(n int) []FileDescriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]FileDescriptor, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

// MarkProcessed records one completion. It never pushes processed past total.
func (q *Queue) MarkProcessed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processed >= q.total {
		return
	}
	q.processed++
	q.history = append(q.history, q.now())
	if len(q.history) > historyWindow {
		q.history = q.history[len(q.history)-historyWindow:]
	}
}

// IsEmpty reports whether no files are waiting.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of waiting files.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Prioritize stably re-ranks waiting files by descending score and trims to
// max. Total shrinks by the number of dropped files. A max <= 0 disables
// trimming. It returns the number of files dropped.
func (q *Queue) Prioritize(max int, score func(FileDescriptor) int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || len(q.items) <= max {
		return 0
	}
	if score != nil {
		scores := make([]int, len(q.items))
		for i, f := range q.items {
			scores[i] = score(f)
		}
		idx := make([]int, len(q.items))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
		ranked := make([]FileDescriptor, len(q.items))
		for i, j := range idx {
			ranked[i] = q.items[j]
		}
		q.items = ranked
	}
	dropped := len(q.items) - max
	q.items = q.items[:max]
	q.total -= dropped
	return dropped
}

// Progress returns a snapshot including the ETA.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{
		FilesProcessed: q.processed,
		FilesTotal:     q.total,
		FilesRemaining: q.total - q.processed,
		Elapsed:        q.now().Sub(q.started),
	}

	switch {
	case q.total == 0:
		p.Status = StatusEmpty
		p.TimeRemaining = "Unknown"
		return p
	case q.processed >= q.total:
		p.Status = StatusComplete
	default:
		p.Status = StatusInProgress
	}
	p.Percent = float64(q.processed) / float64(q.total) * 100
	p.TimeRemaining = q.estimateRemaining(p.FilesRemaining)
	return p
}

func (q *Queue) estimateRemaining(remaining int) string {
	if len(q.history) < 2 {
		return "Calculating..."
	}
	span := q.history[len(q.history)-1].Sub(q.history[0]).Seconds()
	if span <= 0 {
		return "Calculating..."
	}
	rate := float64(len(q.history)) / span
	return FormatDuration(time.Duration(float64(remaining) / rate * float64(time.Second)))
}

// StatusMessage renders a one-line summary of the queue.
func (q *Queue) StatusMessage() string {
	p := q.Progress()
	return fmt.Sprintf("Downloading: %d Files, %.1f%% Complete (%d/%d) [%s Remaining]",
		p.FilesTotal, p.Percent, p.FilesProcessed, p.FilesTotal, p.TimeRemaining)
}

// FormatDuration renders d as "Ns", "Nm Ns" or "Nh Nm".
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
