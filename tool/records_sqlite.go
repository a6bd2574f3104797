package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteRecordSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	doc TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);`

// SQLiteRecordStore persists db.* records in SQLite.
type SQLiteRecordStore struct {
	db *sql.DB
}

// NewSQLiteRecordStore opens (or creates) a SQLite-backed record store.
func NewSQLiteRecordStore(dsn string) (*SQLiteRecordStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("tool: sqlite record store dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite record store open: %w", err)
	}
	// A single connection keeps file::memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite record store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteRecordSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite record store create schema: %w", err)
	}

	return &SQLiteRecordStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteRecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert stores doc and returns the stored record.
func (s *SQLiteRecordStore) Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error) {
	now := time.Now()
	rec, err := newRecord(doc, now)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("tool: encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, doc, created_at) VALUES (?, ?, ?, ?)`,
		collection, rec[RecordIDField], string(payload), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite insert record: %w", err)
	}
	return rec, nil
}

// Find returns records matching filter in insertion order.
func (s *SQLiteRecordStore) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT doc
FROM records
WHERE collection = ?
ORDER BY created_at ASC, rowid ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite find records: %w", err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("tool: sqlite scan record: %w", err)
		}
		rec := make(map[string]any)
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("tool: sqlite decode record: %w", err)
		}
		if matchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool: sqlite iterate records: %w", err)
	}
	return out, nil
}

// Update merges set into the record with the given id.
func (s *SQLiteRecordStore) Update(ctx context.Context, collection, id string, set map[string]any) (map[string]any, error) {
	patch, err := normalizeDoc(set)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recordNotFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite load record: %w", err)
	}

	rec := make(map[string]any)
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("tool: sqlite decode record: %w", err)
	}
	for k, v := range patch {
		if k == RecordIDField {
			continue
		}
		rec[k] = v
	}
	rec["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	updated, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("tool: encode record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET doc = ? WHERE collection = ? AND id = ?`, string(updated), collection, id); err != nil {
		return nil, fmt.Errorf("tool: sqlite update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tool: sqlite commit update: %w", err)
	}
	return rec, nil
}

// Delete removes the record with the given id.
func (s *SQLiteRecordStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("tool: sqlite delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tool: sqlite delete record: %w", err)
	}
	return n > 0, nil
}
