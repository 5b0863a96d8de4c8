// Package archive persists completed pipeline tasks to a durable SQLite
// store so history survives process restarts, independent of the
// in-memory pipeline and session pool.
package archive

import (
	_ "embed"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Record is one archived task, flattened for storage.
type Record struct {
	TaskID       string
	Description  string
	FinalStage   string
	Success      bool
	TotalTokens  int64
	DurationMs   int64
	RoleSummary  map[string]string
	ArchivedAt   time.Time
}

// Store is a SQLite-backed archive of completed tasks.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) a SQLite archive at path, applying the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("archive: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Insert records a completed task. ArchivedAt is stamped with time.Now if
// left zero.
func (s *Store) Insert(r Record) error {
	if r.ArchivedAt.IsZero() {
		r.ArchivedAt = time.Now()
	}

	roleSummary, err := json.Marshal(r.RoleSummary)
	if err != nil {
		return fmt.Errorf("archive: marshaling role summary: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO archived_tasks (task_id, description, final_stage, success, total_tokens, duration_ms, role_summary, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.Description, r.FinalStage, r.Success, r.TotalTokens, r.DurationMs, string(roleSummary), r.ArchivedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("archive: inserting record: %w", err)
	}
	return nil
}

// ByTaskID returns the archived record for taskID, or (Record{}, false).
func (s *Store) ByTaskID(taskID string) (Record, bool, error) {
	row := s.db.QueryRow(`
		SELECT task_id, description, final_stage, success, total_tokens, duration_ms, role_summary, archived_at
		FROM archived_tasks WHERE task_id = ?`, taskID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Recent returns up to limit archived records, most recently archived first.
func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT task_id, description, final_stage, success, total_tokens, duration_ms, role_summary, archived_at
		FROM archived_tasks ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: querying recent: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var roleSummary string
	var archivedAtUnix int64
	err := row.Scan(&r.TaskID, &r.Description, &r.FinalStage, &r.Success, &r.TotalTokens, &r.DurationMs, &roleSummary, &archivedAtUnix)
	if err != nil {
		return Record{}, err
	}
	r.ArchivedAt = time.Unix(archivedAtUnix, 0)
	_ = json.Unmarshal([]byte(roleSummary), &r.RoleSummary)
	return r, nil
}
