// Package persistence archives finished download tasks in SQLite so they
// outlive the bounded in-memory queue history and process restarts.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/fetchbot/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ArchivedTask is a finished task as stored. Task ids restart with every
// process, so Seq is the stable key.
type ArchivedTask struct {
	Seq int64 `json:"seq"`
	jobs.Task
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer of "001_init.sql".
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// SaveTask appends a finished task to the archive.
func (s *SQLiteStore) SaveTask(ctx context.Context, task jobs.Task) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO task_history (
			task_id, label, generation, status, error, submitted_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Label,
		int64(task.Generation),
		string(task.Status),
		task.Error,
		task.SubmittedAt.UTC(),
		task.StartedAt.UTC(),
		task.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive %s: %w", task.ID, err)
	}
	return nil
}

// RecentTasks returns up to limit archived tasks, newest first. failedOnly
// keeps tasks that ended with an error.
func (s *SQLiteStore) RecentTasks(ctx context.Context, limit int, failedOnly bool) ([]ArchivedTask, error) {
	query := `SELECT id, task_id, label, generation, status, error, submitted_at, started_at, finished_at
		 FROM task_history`
	if failedOnly {
		query += ` WHERE error <> ''`
	}
	query += ` ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ArchivedTask, 0)
	for rows.Next() {
		var (
			item       ArchivedTask
			status     string
			generation int64
		)
		if err := rows.Scan(
			&item.Seq,
			&item.ID,
			&item.Label,
			&generation,
			&status,
			&item.Error,
			&item.SubmittedAt,
			&item.StartedAt,
			&item.FinishedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		item.Generation = uint64(generation)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Prune keeps the newest keep tasks and reports how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM task_history
		 WHERE id NOT IN (SELECT id FROM task_history ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
