package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piyushagarwal-55/flowforge/core"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	name TEXT,
	definition BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT,
	server_id TEXT,
	workflow BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflows_server ON workflows(server_id);`

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	DSN string
}

// SQLiteStore persists definitions and workflows in SQLite as JSON documents.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite-backed store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite store open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) ListServers(ctx context.Context) ([]core.ServerDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM servers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list servers: %w", err)
	}
	defer rows.Close()

	var out []core.ServerDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite store scan server: %w", err)
		}
		var def core.ServerDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("sqlite store decode server: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store list servers: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetServer(ctx context.Context, id string) (core.ServerDefinition, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM servers WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ServerDefinition{}, notFound("server", id)
	}
	if err != nil {
		return core.ServerDefinition{}, fmt.Errorf("sqlite store get server: %w", err)
	}
	var def core.ServerDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return core.ServerDefinition{}, fmt.Errorf("sqlite store decode server: %w", err)
	}
	return def, nil
}

func (s *SQLiteStore) PutServer(ctx context.Context, def core.ServerDefinition) error {
	if err := checkID(def.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("sqlite store encode server: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO servers (id, name, definition, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	definition = excluded.definition,
	updated_at = excluded.updated_at`,
		def.ID, def.Name, raw, now, now)
	if err != nil {
		return fmt.Errorf("sqlite store put server: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "servers", "server", id)
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT workflow FROM workflows ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite store scan workflow: %w", err)
		}
		var wf Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, fmt.Errorf("sqlite store decode workflow: %w", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store list workflows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT workflow FROM workflows WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, notFound("workflow", id)
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("sqlite store get workflow: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return Workflow{}, fmt.Errorf("sqlite store decode workflow: %w", err)
	}
	return wf, nil
}

func (s *SQLiteStore) PutWorkflow(ctx context.Context, wf Workflow) (Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Workflow{}, fmt.Errorf("sqlite store begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	var createdAt string
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM workflows WHERE id = ?`, wf.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		wf.CreatedAt = now
	case err != nil:
		return Workflow{}, fmt.Errorf("sqlite store read workflow: %w", err)
	default:
		wf.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return Workflow{}, fmt.Errorf("sqlite store parse created_at: %w", err)
		}
	}
	wf.UpdatedAt = now

	raw, err := json.Marshal(wf)
	if err != nil {
		return Workflow{}, fmt.Errorf("sqlite store encode workflow: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO workflows (id, name, server_id, workflow, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	server_id = excluded.server_id,
	workflow = excluded.workflow,
	updated_at = excluded.updated_at`,
		wf.ID, wf.Name, wf.ServerID, raw,
		wf.CreatedAt.Format(time.RFC3339Nano), wf.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Workflow{}, fmt.Errorf("sqlite store put workflow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Workflow{}, fmt.Errorf("sqlite store commit: %w", err)
	}
	return wf, nil
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "workflows", "workflow", id)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) deleteRow(ctx context.Context, table, kind, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite store delete %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store delete %s: %w", kind, err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
