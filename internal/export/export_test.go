package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/mesh/pkg/taskboard"
)

func newTestStore(t *testing.T) *taskboard.Store {
	t.Helper()
	store, err := taskboard.Open(filepath.Join(t.TempDir(), "mesh.db"), taskboard.StoreOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func readMirror(t *testing.T, path string) *Mirror {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Mirror
	require.NoError(t, json.Unmarshal(data, &m))
	return &m
}

func TestExportEmptyBoard(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(t.TempDir(), "tasks.json")

	require.NoError(t, New(store, path).Export(context.Background()))

	m := readMirror(t, path)
	assert.NotNil(t, m.Tasks, "empty board mirrors as an empty array, not null")
	assert.Empty(t, m.Tasks)
	assert.Positive(t, m.ExportedAtMs)
}

func TestExportSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")

	now := taskboard.NowMs()
	for _, id := range []string{"t1", "t2"} {
		inserted, err := store.InsertTask(ctx, &taskboard.Task{
			ID: id, Lane: "BACKEND", Status: taskboard.StatusPending,
			CreatedAtMs: now, UpdatedAtMs: now,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	require.NoError(t, New(store, path).Export(ctx))

	m := readMirror(t, path)
	require.Len(t, m.Tasks, 2)
	assert.Equal(t, "t1", m.Tasks[0].ID)
	assert.Equal(t, taskboard.StatusPending, m.Tasks[0].Status)
}

func TestExportOverwritesWholesale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	exporter := New(store, path)

	require.NoError(t, exporter.Export(ctx))

	now := taskboard.NowMs()
	inserted, err := store.InsertTask(ctx, &taskboard.Task{
		ID: "late", Lane: "QA", Status: taskboard.StatusPending,
		CreatedAtMs: now, UpdatedAtMs: now,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	require.NoError(t, exporter.Export(ctx))

	m := readMirror(t, path)
	require.Len(t, m.Tasks, 1)
	assert.Equal(t, "late", m.Tasks[0].ID)

	// No temp files left behind after the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
