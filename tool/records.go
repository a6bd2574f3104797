package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordIDField is the key under which record stores place a record's id.
const RecordIDField = "_id"

// RecordStore is the document store behind the db.* built-in tools. Records
// are JSON objects grouped by collection; every record carries RecordIDField.
type RecordStore interface {
	Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error)
	Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error)
	Update(ctx context.Context, collection, id string, set map[string]any) (map[string]any, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
}

// normalizeDoc round-trips doc through JSON so stored values have the same
// shapes regardless of the caller (numbers become float64).
func normalizeDoc(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tool: encode record: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("tool: decode record: %w", err)
	}
	return out, nil
}

// matchesFilter reports whether every filter key is present in doc with an
// equal JSON value.
func matchesFilter(doc, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := doc[key]
		if !ok {
			return false
		}
		wantJSON, err1 := json.Marshal(want)
		gotJSON, err2 := json.Marshal(got)
		if err1 != nil || err2 != nil || !bytes.Equal(wantJSON, gotJSON) {
			return false
		}
	}
	return true
}

func newRecord(doc map[string]any, now time.Time) (map[string]any, error) {
	rec, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}
	if id, _ := rec[RecordIDField].(string); id == "" {
		rec[RecordIDField] = uuid.NewString()
	}
	if _, ok := rec["createdAt"]; !ok {
		rec["createdAt"] = now.UTC().Format(time.RFC3339Nano)
	}
	return rec, nil
}

// MemoryRecordStore keeps records in process memory.
type MemoryRecordStore struct {
	mu          sync.RWMutex
	collections map[string][]map[string]any
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{collections: make(map[string][]map[string]any)}
}

// Insert stores doc and returns the stored record.
func (s *MemoryRecordStore) Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := newRecord(doc, time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.collections[collection] = append(s.collections[collection], rec)
	s.mu.Unlock()

	return cloneRecord(rec), nil
}

// Find returns records matching filter in insertion order.
func (s *MemoryRecordStore) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0)
	for _, rec := range s.collections[collection] {
		if matchesFilter(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// Update merges set into the record with the given id and returns the
// updated record. It returns a NOT_FOUND ToolError when no record matches.
func (s *MemoryRecordStore) Update(ctx context.Context, collection, id string, set map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	patch, err := normalizeDoc(set)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.collections[collection] {
		if rec[RecordIDField] != id {
			continue
		}
		for k, v := range patch {
			if k == RecordIDField {
				continue
			}
			rec[k] = v
		}
		rec["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		return cloneRecord(rec), nil
	}
	return nil, recordNotFound(collection, id)
}

// Delete removes the record with the given id.
func (s *MemoryRecordStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.collections[collection]
	for i, rec := range recs {
		if rec[RecordIDField] == id {
			s.collections[collection] = append(recs[:i], recs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func cloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func recordNotFound(collection, id string) *ToolError {
	return NewError(ErrorCodeNotFound, fmt.Sprintf("record %q not found in %q", id, collection), nil).
		WithDetails(map[string]any{"collection": collection, "id": id})
}
