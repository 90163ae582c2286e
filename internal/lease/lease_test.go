package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/mesh/internal/guard"
	"github.com/meshworks/mesh/pkg/taskboard"
)

func newManager(t *testing.T) (*Manager, *taskboard.Store) {
	t.Helper()
	store, err := taskboard.Open(filepath.Join(t.TempDir(), "mesh.db"), taskboard.StoreOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mut, err := store.Mutator()
	require.NoError(t, err)
	return NewManager(guard.New(mut, nil, nil)), store
}

func addPending(t *testing.T, store *taskboard.Store, id string) {
	t.Helper()
	now := taskboard.NowMs()
	inserted, err := store.InsertTask(context.Background(), &taskboard.Task{
		ID: id, Lane: "BACKEND", Status: taskboard.StatusPending,
		CreatedAtMs: now, UpdatedAtMs: now,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestClaimIssuesLeaseToken(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	addPending(t, store, "t1")

	leaseID, err := mgr.Claim(ctx, "t1", "w1", 10*time.Minute)
	require.NoError(t, err)
	_, parseErr := uuid.Parse(leaseID)
	assert.NoError(t, parseErr, "lease token is a uuid")

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, taskboard.StatusInProgress, task.Status)
	assert.Equal(t, "w1", task.WorkerID)
	assert.Equal(t, leaseID, task.LeaseID)
}

func TestClaimLosesRace(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	addPending(t, store, "t1")

	first, err := mgr.Claim(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)

	_, err = mgr.Claim(ctx, "t1", "w2", time.Minute)
	assert.True(t, taskboard.IsAlreadyClaimed(err))

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first, task.LeaseID, "winner's lease survives")
}

func TestClaimArgumentDiscipline(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	_, err := mgr.Claim(ctx, "", "w1", time.Minute)
	assert.Error(t, err)

	_, err = mgr.Claim(ctx, "t1", "", time.Minute)
	assert.Error(t, err)

	_, err = mgr.Claim(ctx, "t1", "w1", 0)
	assert.Error(t, err)

	_, err = mgr.Claim(ctx, "t1", "w1", -time.Second)
	assert.Error(t, err)
}

func TestRenew(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	addPending(t, store, "t1")

	leaseID, err := mgr.Claim(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)

	before, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mgr.Renew(ctx, "t1", "w1", leaseID))

	after, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Greater(t, after.UpdatedAtMs, before.UpdatedAtMs)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.LeaseID, after.LeaseID)

	t.Run("stale tuple is a mismatch", func(t *testing.T) {
		err := mgr.Renew(ctx, "t1", "w1", uuid.New().String())
		assert.True(t, taskboard.IsLeaseMismatch(err))
	})

	t.Run("empty ids rejected", func(t *testing.T) {
		assert.Error(t, mgr.Renew(ctx, "t1", "w1", ""))
		assert.Error(t, mgr.Renew(ctx, "", "w1", leaseID))
	})
}
