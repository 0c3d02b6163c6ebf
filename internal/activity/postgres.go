package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/narrately/api/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS activity_events (
    id         BIGSERIAL PRIMARY KEY,
    job_id     TEXT        NOT NULL,
    seq        BIGINT      NOT NULL,
    ts         TIMESTAMPTZ NOT NULL,
    event_type TEXT        NOT NULL,
    message    TEXT        NOT NULL DEFAULT '',
    meta       JSONB       NOT NULL DEFAULT '{}'::jsonb,
    UNIQUE (job_id, seq)
)`

const postgresInsert = `
INSERT INTO activity_events (job_id, seq, ts, event_type, message, meta)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
FROM activity_events WHERE job_id = $1
RETURNING seq`

const postgresRecent = `
SELECT ts, seq, event_type, message, meta FROM (
    SELECT ts, seq, event_type, message, meta
    FROM activity_events
    WHERE job_id = $1
    ORDER BY seq DESC
    LIMIT $2
) recent
ORDER BY seq ASC`

const maxSeqConflicts = 5

// PostgresStore keeps events in the activity_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over pool. The table is created on first
// use if missing.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the events table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create activity_events: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, ev *model.Event) error {
	meta, err := encodeMeta(ev.Meta)
	if err != nil {
		return err
	}

	bootstrapped := false
	for attempt := 0; attempt < maxSeqConflicts; attempt++ {
		var seq int64
		err = s.pool.QueryRow(ctx, postgresInsert,
			ev.JobID, ev.TS, ev.EventType, ev.Message, meta,
		).Scan(&seq)
		if err == nil {
			ev.Seq = seq
			return nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return fmt.Errorf("insert activity event: %w", err)
		}
		switch pgErr.Code {
		case pgerrcode.UndefinedTable:
			if bootstrapped {
				return fmt.Errorf("insert activity event: %w", err)
			}
			if err := s.EnsureSchema(ctx); err != nil {
				return err
			}
			bootstrapped = true
		case pgerrcode.UniqueViolation:
			// Another writer took the same seq; recompute.
		default:
			return fmt.Errorf("insert activity event: %w", err)
		}
	}
	return fmt.Errorf("insert activity event: seq contention on job %s: %w", ev.JobID, err)
}

func (s *PostgresStore) Recent(ctx context.Context, jobID string, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, postgresRecent, jobID, limit)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			return []model.Event{}, nil
		}
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev := model.Event{JobID: jobID}
		var meta []byte
		if err := rows.Scan(&ev.TS, &ev.Seq, &ev.EventType, &ev.Message, &meta); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		if ev.Meta, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		ev.TS = ev.TS.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity events: %w", err)
	}
	return events, nil
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return b, nil
}

func decodeMeta(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "{}" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
