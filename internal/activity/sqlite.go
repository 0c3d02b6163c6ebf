package activity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/narrately/api/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS activity_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT    NOT NULL,
    seq        INTEGER NOT NULL,
    ts         TEXT    NOT NULL,
    event_type TEXT    NOT NULL,
    message    TEXT    NOT NULL DEFAULT '',
    meta       TEXT    NOT NULL DEFAULT '{}',
    UNIQUE (job_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_activity_events_job ON activity_events (job_id, seq);`

// SQLiteStore keeps events in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the events database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure activity dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time keeps seq allocation serialized.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply activity schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, ev *model.Event) error {
	meta, err := encodeMeta(ev.Meta)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM activity_events WHERE job_id = ?`, ev.JobID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("allocate seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO activity_events (job_id, seq, ts, event_type, message, meta) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.JobID, seq, ev.TS.UTC().Format(time.RFC3339Nano), ev.EventType, ev.Message, string(meta),
	); err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activity event: %w", err)
	}
	ev.Seq = seq
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, jobID string, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT ts, seq, event_type, message, meta FROM (
            SELECT ts, seq, event_type, message, meta
            FROM activity_events WHERE job_id = ?
            ORDER BY seq DESC LIMIT ?
        ) ORDER BY seq ASC`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev := model.Event{JobID: jobID}
		var ts, meta string
		if err := rows.Scan(&ts, &ev.Seq, &ev.EventType, &ev.Message, &meta); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		if ev.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse ts: %w", err)
		}
		if ev.Meta, err = decodeMeta([]byte(meta)); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
