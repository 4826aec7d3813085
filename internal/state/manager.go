package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DBName is the history database file inside the state directory
const DBName = "sftpmirror.db"

// Run kinds
const (
	KindCompare = "compare"
	KindSync    = "sync"
	KindBackup  = "backup"
)

// Run statuses. Partial means the run finished with warnings.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Manager handles run history persistence
type Manager struct {
	db *sql.DB
}

// RunRecord is one compare, sync or backup run
type RunRecord struct {
	ID        string
	Kind      string
	Source    string // host:port:root, empty for backups
	Target    string
	StartTime time.Time
	EndTime   time.Time
	Status    string
	Copied    int
	Deleted   int
	Warnings  int
	Summary   string
	Error     string
}

// Duration is how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// NewManager opens (creating if needed) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DBName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		copied INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		warnings INTEGER DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_target_time ON runs(target, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_kind_status ON runs(kind, status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveRun records a run. An empty ID is filled with a new uuid.
func (m *Manager) SaveRun(record RunRecord) (string, error) {
	switch record.Status {
	case StatusSuccess, StatusPartial, StatusFailed:
	default:
		return "", fmt.Errorf("invalid status: %s (must be 'success', 'partial', or 'failed')", record.Status)
	}
	switch record.Kind {
	case KindCompare, KindSync, KindBackup:
	default:
		return "", fmt.Errorf("invalid kind: %s", record.Kind)
	}
	if strings.TrimSpace(record.Target) == "" {
		return "", fmt.Errorf("target cannot be empty")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `
		INSERT INTO runs (id, kind, source, target, start_time, end_time, status, copied, deleted, warnings, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := m.db.Exec(query,
		record.ID,
		record.Kind,
		record.Source,
		record.Target,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.Copied,
		record.Deleted,
		record.Warnings,
		record.Summary,
		record.Error,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save run record: %w", err)
	}
	return record.ID, nil
}

const selectRuns = `
	SELECT id, kind, source, target, start_time, end_time, status, copied, deleted, warnings, summary, error
	FROM runs
`

// History returns the newest runs against target
func (m *Manager) History(target string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := m.db.Query(selectRuns+`WHERE target = ? ORDER BY start_time DESC LIMIT ?`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanRows(rows)
}

// AllHistory returns the newest runs across all targets
func (m *Manager) AllHistory(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := m.db.Query(selectRuns+`ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanRows(rows)
}

// LastSuccess returns the newest successful run of kind against target,
// or nil when there is none.
func (m *Manager) LastSuccess(kind, target string) (*RunRecord, error) {
	row := m.db.QueryRow(selectRuns+`WHERE kind = ? AND target = ? AND status = 'success' ORDER BY start_time DESC LIMIT 1`, kind, target)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (RunRecord, error) {
	var r RunRecord
	err := s.Scan(
		&r.ID,
		&r.Kind,
		&r.Source,
		&r.Target,
		&r.StartTime,
		&r.EndTime,
		&r.Status,
		&r.Copied,
		&r.Deleted,
		&r.Warnings,
		&r.Summary,
		&r.Error,
	)
	return r, err
}

func scanRows(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
