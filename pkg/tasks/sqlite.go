package tasks

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docharvest/pkg/logger"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	doc        TEXT NOT NULL
)`

// SQLiteStore keeps each task as a JSON document in one row.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string, log logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task database: %w", err)
	}
	// A single connection keeps writes serialised.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tasks table: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger.OrDefault(log)}, nil
}

func (s *SQLiteStore) Load(id string) (*Task, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	var task Task
	if err := json.Unmarshal([]byte(doc), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &task, nil
}

func (s *SQLiteStore) Save(task *Task) error {
	if err := validID(task.ID); err != nil {
		return err
	}
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO tasks (id, type, status, updated_at, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			doc = excluded.doc`,
		task.ID, task.Type, string(task.Status), task.UpdatedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// List returns every decodable task. Corrupt rows are logged and skipped.
func (s *SQLiteStore) List() ([]*Task, error) {
	rows, err := s.db.Query(`SELECT id, doc FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		var task Task
		if err := json.Unmarshal([]byte(doc), &task); err != nil {
			s.logger.WarnWithFields("Skipping unreadable task row", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) Exists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM tasks WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check task %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
