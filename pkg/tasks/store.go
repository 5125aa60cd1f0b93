package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docharvest/pkg/logger"
)

// Store persists task documents.
type Store interface {
	// Load returns nil, nil when no task with id exists.
	Load(id string) (*Task, error)
	Save(task *Task) error
	List() ([]*Task, error)
	Exists(id string) (bool, error)
	Close() error
}

var errInvalidID = errors.New("invalid task id")

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", errInvalidID, id)
	}
	return nil
}

// FileStore keeps one JSON file per task in a directory.
type FileStore struct {
	dir    string
	logger logger.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, log logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.OrDefault(log)}, nil
}

// Dir returns the directory holding the task files.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Load(id string) (*Task, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	file, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open task file: %w", err)
	}
	defer file.Close()

	var task Task
	if err := json.NewDecoder(file).Decode(&task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &task, nil
}

// Save writes the task to a temporary file and renames it over the old one.
func (s *FileStore) Save(task *Task) error {
	if err := validID(task.ID); err != nil {
		return err
	}
	target := s.path(task.ID)
	tempPath := target + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary task file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(task); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode task: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync task file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close task file: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace task file: %w", err)
	}
	return nil
}

// List decodes every task file. Unreadable files are logged and skipped.
func (s *FileStore) List() ([]*Task, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list task files: %w", err)
	}
	sort.Strings(matches)

	tasks := make([]*Task, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSuffix(filepath.Base(m), ".json")
		task, err := s.Load(id)
		if err != nil {
			s.logger.WarnWithFields("Skipping unreadable task file", map[string]interface{}{
				"file":  filepath.Base(m),
				"error": err.Error(),
			})
			continue
		}
		if task != nil {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (s *FileStore) Exists(id string) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Close() error { return nil }
