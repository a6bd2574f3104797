package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piyushagarwal-55/flowforge/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flowforge_servers (
	id TEXT PRIMARY KEY,
	name TEXT,
	definition JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS flowforge_workflows (
	id TEXT PRIMARY KEY,
	name TEXT,
	server_id TEXT,
	workflow JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_flowforge_workflows_server ON flowforge_workflows(server_id);`

// PostgresStore persists definitions and workflows in PostgreSQL JSONB
// columns through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, verifies the connection and creates the
// schema when missing.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) ListServers(ctx context.Context) ([]core.ServerDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM flowforge_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store list servers: %w", err)
	}
	defer rows.Close()

	var out []core.ServerDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var def core.ServerDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("postgres store decode server: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetServer(ctx context.Context, id string) (core.ServerDefinition, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM flowforge_servers WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ServerDefinition{}, notFound("server", id)
	}
	if err != nil {
		return core.ServerDefinition{}, fmt.Errorf("postgres store get server: %w", err)
	}
	var def core.ServerDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return core.ServerDefinition{}, fmt.Errorf("postgres store decode server: %w", err)
	}
	return def, nil
}

func (s *PostgresStore) PutServer(ctx context.Context, def core.ServerDefinition) error {
	if err := checkID(def.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("postgres store encode server: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO flowforge_servers (id, name, definition)
		VALUES ($1,$2,$3::jsonb)
		ON CONFLICT (id) DO UPDATE SET
		  name=EXCLUDED.name,
		  definition=EXCLUDED.definition,
		  updated_at=now()
	`, def.ID, def.Name, raw)
	if err != nil {
		return fmt.Errorf("postgres store put server: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteServer(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flowforge_servers WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("postgres store delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("server", id)
	}
	return nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow, created_at, updated_at
		FROM flowforge_workflows
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres store list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow, created_at, updated_at
		FROM flowforge_workflows
		WHERE id=$1
	`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, notFound("workflow", id)
	}
	return wf, err
}

func (s *PostgresStore) PutWorkflow(ctx context.Context, wf Workflow) (Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return Workflow{}, fmt.Errorf("postgres store encode workflow: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO flowforge_workflows (id, name, server_id, workflow)
		VALUES ($1,$2,$3,$4::jsonb)
		ON CONFLICT (id) DO UPDATE SET
		  name=EXCLUDED.name,
		  server_id=EXCLUDED.server_id,
		  workflow=EXCLUDED.workflow,
		  updated_at=now()
		RETURNING created_at, updated_at
	`, wf.ID, wf.Name, wf.ServerID, raw).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return Workflow{}, fmt.Errorf("postgres store put workflow: %w", err)
	}
	return wf, nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flowforge_workflows WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("postgres store delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("workflow", id)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// scanWorkflow decodes the JSONB document and takes timestamps from their
// columns, which the database owns.
func scanWorkflow(row pgx.Row) (Workflow, error) {
	var (
		raw       []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&raw, &createdAt, &updatedAt); err != nil {
		return Workflow{}, err
	}
	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return Workflow{}, fmt.Errorf("postgres store decode workflow: %w", err)
	}
	wf.CreatedAt = createdAt.UTC()
	wf.UpdatedAt = updatedAt.UTC()
	return wf, nil
}
