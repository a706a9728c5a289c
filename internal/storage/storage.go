// Package storage keeps a history of check results in SQLite. The listener
// and the passive worker both write to the same database file.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Record sources.
const (
	SourceAPI     = "api"
	SourcePassive = "passive"
)

const deleteBatchSize = 1000

const schema = `
CREATE TABLE IF NOT EXISTS checks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT    NOT NULL,
	path       TEXT    NOT NULL,
	query      TEXT    NOT NULL DEFAULT '',
	returncode INTEGER NOT NULL,
	stdout     TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_created_at ON checks(created_at);
`

// Record is one stored check result.
type Record struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Path       string    `json:"path"`
	Query      string    `json:"query,omitempty"`
	Returncode int       `json:"returncode"`
	Stdout     string    `json:"stdout"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the check history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Two processes write concurrently: WAL plus a busy timeout.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCheck stores r and returns its id. A zero CreatedAt is set to now.
func (s *Store) RecordCheck(ctx context.Context, r Record) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (source, path, query, returncode, stdout, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Source, r.Path, r.Query, r.Returncode, r.Stdout, r.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record check: %w", err)
	}
	return res.LastInsertId()
}

// RecentChecks returns up to limit records, newest first.
func (s *Store) RecentChecks(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, path, query, returncode, stdout, created_at
		 FROM checks ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created int64
		if err := rows.Scan(&r.ID, &r.Source, &r.Path, &r.Query, &r.Returncode, &r.Stdout, &created); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Maintain deletes records older than retentionDays and returns how many
// were removed. Zero or negative retention keeps everything.
func (s *Store) Maintain(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays).UnixMilli()

	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		res, err := s.db.ExecContext(ctx,
			`DELETE FROM checks WHERE id IN (SELECT id FROM checks WHERE created_at < ? LIMIT ?)`,
			cutoff, deleteBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete old checks: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count deleted checks: %w", err)
		}
		total += int(n)
		if n < deleteBatchSize {
			return total, nil
		}
	}
}
