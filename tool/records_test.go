package tool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordStores(t *testing.T) map[string]RecordStore {
	t.Helper()
	sqlite, err := NewSQLiteRecordStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]RecordStore{
		"memory": NewMemoryRecordStore(),
		"sqlite": sqlite,
	}
}

func TestRecordStores(t *testing.T) {
	for name, store := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := store.Insert(ctx, "users", map[string]any{"email": "a@x.com", "age": 30})
			require.NoError(t, err)
			_, err = store.Insert(ctx, "users", map[string]any{"email": "b@x.com", "age": 40})
			require.NoError(t, err)
			_, err = store.Insert(ctx, "posts", map[string]any{"title": "hi"})
			require.NoError(t, err)

			all, err := store.Find(ctx, "users", nil)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a@x.com", all[0]["email"])

			byAge, err := store.Find(ctx, "users", map[string]any{"age": 40})
			require.NoError(t, err)
			require.Len(t, byAge, 1)
			assert.Equal(t, "b@x.com", byAge[0]["email"])

			id := a[RecordIDField].(string)
			updated, err := store.Update(ctx, "users", id, map[string]any{"age": 31, RecordIDField: "ignored"})
			require.NoError(t, err)
			assert.Equal(t, float64(31), updated["age"])
			assert.Equal(t, id, updated[RecordIDField])

			ok, err := store.Delete(ctx, "users", id)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = store.Delete(ctx, "users", id)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = store.Update(ctx, "users", id, map[string]any{"age": 1})
			assert.Equal(t, ErrorCodeNotFound, ErrorCode(err))
		})
	}
}
