// Package history keeps a durable audit log of dispatched commands in a
// local SQLite database. The live session registry stays in memory; this
// log is what survives a restart.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
	"github.com/llkhacquan/tmux-claude-bridge/internal/orchestrator"
)

var histLog = logging.ForComponent(logging.CompHistory)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Log wraps a SQLite database holding one row per dispatched command.
// Thread-safe for concurrent use from multiple goroutines within one
// process; WAL mode plus a busy timeout keeps cross-process access safe.
type Log struct {
	db *sql.DB
}

// Entry is one audit row.
type Entry struct {
	ID           string    `json:"id"`
	Command      string    `json:"command"`
	Target       string    `json:"target"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	DurationSecs float64   `json:"duration_secs"`
}

// Open creates or opens the audit database at dbPath with WAL mode and a
// busy timeout.
func Open(dbPath string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: busy timeout: %w", err)
	}

	return &Log{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (l *Log) Close() error {
	_, _ = l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.db.Close()
}

// Migrate creates tables if they don't exist.
func (l *Log) Migrate() error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("history: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id            TEXT PRIMARY KEY,
			command       TEXT NOT NULL,
			target        TEXT NOT NULL DEFAULT '',
			category      TEXT NOT NULL DEFAULT 'general',
			status        TEXT NOT NULL DEFAULT 'running',
			error         TEXT NOT NULL DEFAULT '',
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER NOT NULL DEFAULT 0,
			duration_secs REAL NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("history: create commands: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_commands_started ON commands(started_at)
	`); err != nil {
		return fmt.Errorf("history: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("history: set schema version: %w", err)
	}

	return tx.Commit()
}

// RecordDispatch writes the initial row for a dispatched command.
func (l *Log) RecordDispatch(snap orchestrator.Snapshot) error {
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO commands (
			id, command, target, category, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.Command, snap.Target, string(snap.Category),
		string(snap.Status), snap.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("history: record dispatch: %w", err)
	}
	return nil
}

// RecordOutcome updates the row with the session's terminal state.
func (l *Log) RecordOutcome(snap orchestrator.Snapshot) error {
	_, err := l.db.Exec(`
		UPDATE commands
		SET status = ?, error = ?, finished_at = ?, duration_secs = ?
		WHERE id = ?
	`, string(snap.Status), snap.Error, time.Now().Unix(),
		snap.DurationSecs, snap.ID)
	if err != nil {
		return fmt.Errorf("history: record outcome: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, command, target, category, status, error,
		       started_at, finished_at, duration_secs
		FROM commands
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.Command, &e.Target, &e.Category,
			&e.Status, &e.Error, &started, &finished, &e.DurationSecs); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			e.FinishedAt = time.Unix(finished, 0)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return entries, nil
}

// SessionStarted implements orchestrator.Notifier. Write failures are
// logged, never propagated into the execution path.
func (l *Log) SessionStarted(snap orchestrator.Snapshot) {
	if err := l.RecordDispatch(snap); err != nil {
		histLog.Error("record_dispatch_failed",
			slog.String("id", snap.ID),
			slog.String("error", err.Error()))
	}
}

// SessionUpdated implements orchestrator.Notifier.
func (l *Log) SessionUpdated(snap orchestrator.Snapshot) {
	if err := l.RecordOutcome(snap); err != nil {
		histLog.Error("record_outcome_failed",
			slog.String("id", snap.ID),
			slog.String("error", err.Error()))
	}
}

var _ orchestrator.Notifier = (*Log)(nil)
