package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"docharvest/pkg/config"
	"docharvest/pkg/logger"

	"github.com/dustin/go-humanize"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Task types understood by the orchestrator.
const (
	TypeRepository   = "repository"
	TypeOrganization = "organization"
	TypeWebsite      = "website"
)

// ErrNotFound is returned when a mutation targets an unknown task.
var ErrNotFound = errors.New("task not found")

// Stage is a finished stage of a task.
type Stage struct {
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}

// Task is the durable record of one run.
type Task struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Params         json.RawMessage        `json:"params,omitempty"`
	Description    string                 `json:"description"`
	Status         Status                 `json:"status"`
	Progress       float64                `json:"progress"`
	Stages         []Stage                `json:"stages"`
	CurrentStage   string                 `json:"current_stage,omitempty"`
	StageProgress  float64                `json:"stage_progress"`
	StageStartedAt *time.Time             `json:"stage_started_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	CancelledAt    *time.Time             `json:"cancelled_at,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`

	// Filled in by ListResumable only.
	CreatedAgo string `json:"created_ago,omitempty"`
	UpdatedAgo string `json:"updated_ago,omitempty"`
}

// DecodeParams unmarshals the stored parameters into v.
func (t *Task) DecodeParams(v interface{}) error {
	if len(t.Params) == 0 {
		return fmt.Errorf("task %s has no parameters", t.ID)
	}
	if err := json.Unmarshal(t.Params, v); err != nil {
		return fmt.Errorf("failed to decode parameters of task %s: %w", t.ID, err)
	}
	return nil
}

// Resumable reports whether the task may be picked up again.
func (t *Task) Resumable() bool {
	return t.Status != StatusCompleted && t.Status != StatusFailed
}

// Update carries the optional parts of a progress update. A nil
// StageProgress leaves the stage progress untouched.
type Update struct {
	Stage         string
	StageProgress *float64
	Status        Status
}

// StageAt is shorthand for an Update that only sets the stage and its progress.
func StageAt(stage string, progress float64) Update {
	return Update{Stage: stage, StageProgress: &progress}
}

// CacheUsage describes how much the scratch cache occupies.
type CacheUsage struct {
	Bytes int64
	MB    int64
	Human string
}

// Tracker creates and updates task records. Writes are serialised.
type Tracker struct {
	mu       sync.Mutex
	store    Store
	cacheDir string
	logger   logger.Logger
	now      func() time.Time
}

// NewTracker wraps a store. cacheDir is the scratch cache the cache helpers act on.
func NewTracker(store Store, cacheDir string, log logger.Logger) *Tracker {
	return &Tracker{
		store:    store,
		cacheDir: cacheDir,
		logger:   logger.OrDefault(log),
		now:      time.Now,
	}
}

// Open builds a tracker from configuration, choosing the store named by
// Storage.TaskStore ("file" or "sqlite").
func Open(cfg *config.Config, log logger.Logger) (*Tracker, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}

	var store Store
	switch cfg.Storage.TaskStore {
	case "", "file":
		store, err = NewFileStore(filepath.Join(dataDir, "tasks"), log)
	case "sqlite":
		store, err = OpenSQLiteStore(filepath.Join(dataDir, "tasks.db"), log)
	default:
		return nil, fmt.Errorf("unknown task store %q", cfg.Storage.TaskStore)
	}
	if err != nil {
		return nil, err
	}

	return NewTracker(store, CacheDir(dataDir), log), nil
}

// CacheDir returns the scratch cache directory under dataDir.
func CacheDir(dataDir string) string {
	return filepath.Join(dataDir, "cache")
}

// CacheDir returns the scratch cache directory this tracker manages.
func (t *Tracker) CacheDir() string {
	return t.cacheDir
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

// Create records a new task and returns its id.
func (t *Tracker) Create(taskType string, params interface{}, description string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	id, err := t.uniqueID(taskType, now)
	if err != nil {
		return "", err
	}

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("failed to encode task parameters: %w", err)
		}
	}

	if description == "" {
		description = defaultDescription(taskType)
	}

	task := &Task{
		ID:          id,
		Type:        taskType,
		Params:      raw,
		Description: description,
		Status:      StatusCreated,
		Stages:      []Stage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.Save(task); err != nil {
		return "", err
	}

	t.logger.InfoWithFields("Task created", map[string]interface{}{
		"task_id":     id,
		"description": description,
	})
	return id, nil
}

func (t *Tracker) uniqueID(taskType string, now time.Time) (string, error) {
	base := fmt.Sprintf("%s_%s", taskType, now.Format("20060102_150405"))
	id := base
	for n := 1; ; n++ {
		exists, err := t.store.Exists(id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

func defaultDescription(taskType string) string {
	if taskType == "" {
		return "Dataset creation"
	}
	first, size := utf8.DecodeRuneInString(taskType)
	return string(unicode.ToUpper(first)) + taskType[size:] + " dataset creation"
}

// UpdateProgress sets overall progress and, optionally, stage and status.
// Switching stage records the previous one as finished.
func (t *Tracker) UpdateProgress(id string, percent float64, upd Update) error {
	return t.mutate(id, func(task *Task, now time.Time) {
		task.Progress = percent

		switch {
		case upd.Status != "":
			task.Status = upd.Status
		case task.Status == StatusCreated:
			task.Status = StatusInProgress
		}

		if upd.Stage != "" && upd.Stage != task.CurrentStage {
			closeStage(task, now)
			task.CurrentStage = upd.Stage
			task.StageStartedAt = &now
			task.StageProgress = 0
			if upd.StageProgress != nil {
				task.StageProgress = *upd.StageProgress
			}
		} else if upd.StageProgress != nil {
			task.StageProgress = *upd.StageProgress
		}
	})
}

// Complete marks the task completed or failed and closes the current stage.
func (t *Tracker) Complete(id string, success bool, result map[string]interface{}) error {
	err := t.mutate(id, func(task *Task, now time.Time) {
		if success {
			task.Status = StatusCompleted
			task.Progress = 100
		} else {
			task.Status = StatusFailed
		}
		task.CompletedAt = &now
		if result != nil {
			task.Result = result
		}
		closeStage(task, now)
	})
	if err == nil {
		t.logger.InfoWithFields("Task finished", map[string]interface{}{
			"task_id": id,
			"success": success,
		})
	}
	return err
}

// Cancel marks the task cancelled. Cancelled tasks stay resumable.
func (t *Tracker) Cancel(id string) error {
	err := t.mutate(id, func(task *Task, now time.Time) {
		task.Status = StatusCancelled
		task.CancelledAt = &now
	})
	if err == nil {
		t.logger.InfoWithFields("Task cancelled", map[string]interface{}{"task_id": id})
	}
	return err
}

func closeStage(task *Task, now time.Time) {
	if task.CurrentStage == "" {
		return
	}
	task.Stages = append(task.Stages, Stage{Name: task.CurrentStage, CompletedAt: now})
	task.CurrentStage = ""
}

func (t *Tracker) mutate(id string, fn func(task *Task, now time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.store.Load(id)
	if err != nil {
		return err
	}
	if task == nil {
		t.logger.ErrorWithFields("Task not found", map[string]interface{}{"task_id": id})
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := t.now()
	fn(task, now)
	task.UpdatedAt = now
	task.CreatedAgo, task.UpdatedAgo = "", ""
	return t.store.Save(task)
}

// Get returns the task, or nil when it does not exist.
func (t *Tracker) Get(id string) (*Task, error) {
	return t.store.Load(id)
}

// ListResumable returns tasks that are neither completed nor failed, most
// recently updated first, with relative ages filled in.
func (t *Tracker) ListResumable() ([]*Task, error) {
	all, err := t.store.List()
	if err != nil {
		return nil, err
	}

	now := t.now()
	out := make([]*Task, 0, len(all))
	for _, task := range all {
		if !task.Resumable() {
			continue
		}
		task.CreatedAgo = FormatAgo(now.Sub(task.CreatedAt))
		task.UpdatedAgo = FormatAgo(now.Sub(task.UpdatedAt))
		out = append(out, task)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// FormatAgo renders an age as "N seconds ago", "N minutes ago" or "N hours ago".
func FormatAgo(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}
}

// CacheSize sums the size of every regular file in the cache directory.
// A missing directory is empty.
func (t *Tracker) CacheSize() (CacheUsage, error) {
	var total int64
	err := filepath.WalkDir(t.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == t.cacheDir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return CacheUsage{}, fmt.Errorf("failed to measure cache: %w", err)
	}

	return CacheUsage{
		Bytes: total,
		MB:    total / (1024 * 1024),
		Human: humanize.Bytes(uint64(total)),
	}, nil
}

// ClearCache removes everything inside the cache directory but keeps the
// directory itself.
func (t *Tracker) ClearCache() error {
	entries, err := os.ReadDir(t.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			t.logger.Warn("Cache directory does not exist")
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(t.cacheDir, e.Name())); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	t.logger.InfoWithFields("Cache cleared", map[string]interface{}{
		"path":    t.cacheDir,
		"entries": len(entries),
	})
	return nil
}
