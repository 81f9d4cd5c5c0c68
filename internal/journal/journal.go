// Package journal persists backend lifecycle events in a local SQLite
// database so past runs can be inspected with `tether history`.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Paintersrp/tether/internal/supervisor"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	busyTimeoutMs     = 5000
	connectionTimeout = 5 * time.Second
	recordTimeout     = 2 * time.Second

	DefaultLimit = 20
	MaxLimit     = 500

	// timeLayout has a fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	backend TEXT NOT NULL,
	type TEXT NOT NULL,
	state TEXT NOT NULL,
	handle_id TEXT NOT NULL DEFAULT '',
	pid INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);
`

// Entry is a single persisted lifecycle event.
type Entry struct {
	ID        int64     `json:"id"`
	Backend   string    `json:"backend"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	HandleID  string    `json:"handleId,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Journal stores lifecycle events in SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	_ = os.Chmod(path, filePermissions)

	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// Record inserts a lifecycle event.
func (j *Journal) Record(ctx context.Context, evt supervisor.Event) error {
	if evt.Backend == "" {
		return fmt.Errorf("event backend is required")
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events (backend, type, state, handle_id, pid, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		evt.Backend,
		string(evt.Type),
		evt.State.String(),
		evt.ID,
		evt.PID,
		evt.Message(),
		ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, backend, type, state, handle_id, pid, error, created_at
		 FROM events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry     Entry
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Backend, &entry.Type, &entry.State, &entry.HandleID, &entry.PID, &entry.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal: %w", err)
		}
		entry.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Prune deletes events older than the given duration.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := j.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting journal events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Logger receives journal write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

// Observer returns a supervisor observer that records every event. Write
// failures are logged and never reach the supervisor.
func (j *Journal) Observer(logger Logger) supervisor.Observer {
	return supervisor.ObserverFunc(func(evt supervisor.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := j.Record(ctx, evt); err != nil && logger != nil {
			logger.Warn("journal write failed", "event", string(evt.Type), "error", err)
		}
	})
}
