package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/piyushagarwal-55/flowforge/core"

	_ "modernc.org/sqlite"
)

const sqliteLogSchema = `
CREATE TABLE IF NOT EXISTS log_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	time TEXT NOT NULL,
	data TEXT NOT NULL,
	trace_id TEXT NOT NULL DEFAULT '',
	span_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_log_events_execution_seq ON log_events (execution_id, seq);
CREATE INDEX IF NOT EXISTS idx_log_events_time ON log_events (time);`

// SQLiteStoreConfig configures the SQLite log store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes events older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per execution (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteLogStore persists execution log events to SQLite, in WAL mode, with
// an optional background pruner.
type SQLiteLogStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteLogStore opens (or creates) a SQLite log store.
func NewSQLiteLogStore(cfg SQLiteStoreConfig) (*SQLiteLogStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteLogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteLogStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Append stores an event in the database.
func (s *SQLiteLogStore) Append(ctx context.Context, event core.LogEvent) error {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO log_events (execution_id, seq, type, time, data, trace_id, span_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID,
		event.Seq,
		string(event.Type),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		string(dataJSON),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns events for an execution, optionally filtered by afterSeq and limit.
func (s *SQLiteLogStore) List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]core.LogEvent, error) {
	query := `SELECT execution_id, seq, type, time, data, trace_id, span_id
	           FROM log_events WHERE execution_id = ? AND seq > ? ORDER BY seq ASC, id ASC`
	args := []any{executionID, afterSeq}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	return scanLogEvents(rows)
}

// LatestSeq returns the highest Seq for an execution (0 if no events).
func (s *SQLiteLogStore) LatestSeq(ctx context.Context, executionID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM log_events WHERE execution_id = ?`, executionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- seq is never negative
}

// ExecutionIDs returns the distinct execution ids in the store.
func (s *SQLiteLogStore) ExecutionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT execution_id FROM log_events ORDER BY execution_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: execution ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteLogStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass.
func (s *SQLiteLogStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM log_events WHERE time < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		ids, err := s.ExecutionIDs(ctx)
		if err != nil {
			return fmt.Errorf("sqlitestore: prune: %w", err)
		}
		for _, id := range ids {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM log_events WHERE execution_id = ? AND id NOT IN (
					SELECT id FROM log_events WHERE execution_id = ? ORDER BY seq DESC LIMIT ?
				)`, id, id, s.cfg.RetentionCount,
			); err != nil {
				return fmt.Errorf("sqlitestore: prune by count for %s: %w", id, err)
			}
		}
	}
	return nil
}

func (s *SQLiteLogStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanLogEvents(rows *sql.Rows) ([]core.LogEvent, error) {
	var events []core.LogEvent
	for rows.Next() {
		var (
			e        core.LogEvent
			typ      string
			timeStr  string
			dataJSON string
		)
		if err := rows.Scan(&e.ExecutionID, &e.Seq, &typ, &timeStr, &dataJSON, &e.TraceID, &e.SpanID); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		e.Type = core.LogEventType(typ)

		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", timeStr, err)
		}
		e.Timestamp = t

		e.Data = map[string]any{}
		if dataJSON != "" && dataJSON != "{}" {
			if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ LogStore = (*SQLiteLogStore)(nil)
