package history

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite run journal
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// SaveRun appends a completed run with retry on busy
func (s *SQLiteStore) SaveRun(record *RunRecord) error {
	if s.closed.Load() {
		return fmt.Errorf("history store is closed")
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		res, err := s.db.Exec(
			`INSERT INTO runs (started_at, finished_at, status, error) VALUES (?, ?, ?, ?)`,
			record.StartedAt,
			record.FinishedAt,
			string(record.Status),
			record.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
}

// LastSuccess returns the finish time of the newest successful run
func (s *SQLiteStore) LastSuccess() (time.Time, error) {
	if s.closed.Load() {
		return time.Time{}, fmt.Errorf("history store is closed")
	}

	var finished time.Time
	err := s.db.QueryRow(
		`SELECT finished_at FROM runs WHERE status = ? ORDER BY finished_at DESC LIMIT 1`,
		string(RunSucceeded),
	).Scan(&finished)

	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	return finished, nil
}

// ListRecent returns up to limit runs, newest first
func (s *SQLiteStore) ListRecent(limit int) ([]*RunRecord, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("history store is closed")
	}

	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, status, error
		 FROM runs ORDER BY finished_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord

	for rows.Next() {
		var record RunRecord
		var runError sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.StartedAt,
			&record.FinishedAt,
			&record.Status,
			&runError,
		)
		if err != nil {
			return nil, err
		}

		if runError.Valid {
			record.Error = runError.String
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 5
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		if !isSQLiteBusyError(err) {
			return err
		}

		if attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
		}
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}
