package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/guard"
	"github.com/meshworks/mesh/internal/lease"
	"github.com/meshworks/mesh/pkg/taskboard"
)

func testMeshConfig() *config.MeshConfig {
	return &config.MeshConfig{
		Version:  "1.0",
		Instance: "test",
		Workers: map[string]config.WorkerType{
			"backend":  {Lanes: []string{"BACKEND"}},
			"frontend": {Lanes: []string{"FRONTEND"}},
			"floater":  {Lanes: []string{"BACKEND", "FRONTEND", "QA"}},
		},
	}
}

type schedFixture struct {
	store *taskboard.Store
	sched *Scheduler
	guard *guard.ConsistencyGuard
}

func newFixture(t *testing.T, presence *taskboard.Presence) *schedFixture {
	t.Helper()
	store, err := taskboard.Open(filepath.Join(t.TempDir(), "mesh.db"), taskboard.StoreOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mut, err := store.Mutator()
	require.NoError(t, err)
	g := guard.New(mut, nil, nil)
	leases := lease.NewManager(g)

	return &schedFixture{
		store: store,
		sched: New(store, leases, g, presence, testMeshConfig()),
		guard: g,
	}
}

func (f *schedFixture) addTask(t *testing.T, id, lane string, status taskboard.Status, deps ...string) {
	t.Helper()
	now := taskboard.NowMs()
	task := &taskboard.Task{
		ID: id, Lane: lane, Status: status, Deps: deps,
		CreatedAtMs: now, UpdatedAtMs: now,
	}
	if status == taskboard.StatusInProgress {
		task.WorkerID = "other"
		task.LeaseID = "other-lease"
	}
	inserted, err := f.store.InsertTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, inserted)
}

func pick(t *testing.T, f *schedFixture, rt config.Runtime, workerType, workerID string) *PickResult {
	t.Helper()
	result, err := f.sched.PickTask(context.Background(), rt, workerType, workerID, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestPickTaskClaims(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addTask(t, "t1", "BACKEND", taskboard.StatusPending)

	result := pick(t, f, config.Runtime{}, "backend", "w1")
	require.NotNil(t, result.Task)
	assert.Equal(t, "t1", result.Task.ID)
	assert.NotEmpty(t, result.LeaseID)
	assert.False(t, result.Rotation, "single lane needs no rotation")

	// The claim is durable, not just an in-memory selection.
	stored, err := f.store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, taskboard.StatusInProgress, stored.Status)
	assert.Equal(t, "w1", stored.WorkerID)
	assert.Equal(t, result.LeaseID, stored.LeaseID)
}

func TestPickTaskNoWorkReasons(t *testing.T) {
	t.Run("empty board", func(t *testing.T) {
		f := newFixture(t, nil)
		result := pick(t, f, config.Runtime{}, "backend", "w1")
		assert.Nil(t, result.Task)
		assert.Equal(t, taskboard.NoWorkEmpty, result.NoWork)
	})

	t.Run("work exists outside the worker's lanes", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addTask(t, "t1", "FRONTEND", taskboard.StatusPending)

		result := pick(t, f, config.Runtime{}, "backend", "w1")
		assert.Nil(t, result.Task)
		assert.Equal(t, taskboard.NoWorkLane, result.NoWork)
	})

	t.Run("every candidate blocked by dependencies", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addTask(t, "base", "BACKEND", taskboard.StatusInProgress)
		f.addTask(t, "t1", "BACKEND", taskboard.StatusPending, "base")

		result := pick(t, f, config.Runtime{}, "backend", "w1")
		assert.Nil(t, result.Task)
		assert.Equal(t, taskboard.NoWorkDeps, result.NoWork)
	})

	t.Run("only terminal tasks remain", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addTask(t, "t1", "BACKEND", taskboard.StatusCompleted)
		f.addTask(t, "t2", "BACKEND", taskboard.StatusFailed)

		result := pick(t, f, config.Runtime{}, "backend", "w1")
		assert.Nil(t, result.Task)
		assert.Equal(t, taskboard.NoWorkNone, result.NoWork)
	})
}

func TestPickTaskDependencyGating(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "base", "BACKEND", taskboard.StatusCompleted)
	f.addTask(t, "ready", "BACKEND", taskboard.StatusPending, "base")
	f.addTask(t, "blocked", "BACKEND", taskboard.StatusPending, "missing-dep")

	result := pick(t, f, config.Runtime{}, "backend", "w1")
	require.NotNil(t, result.Task)
	assert.Equal(t, "ready", result.Task.ID, "only the task with completed deps is claimable")
}

func TestPickTaskReviewDoesNotSatisfyDeps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// base went through claim and a success report, so it sits in review.
	f.addTask(t, "base", "BACKEND", taskboard.StatusPending)
	require.NoError(t, f.guard.Claim(ctx, "base", "w0", "lease-0"))
	require.NoError(t, f.guard.CompleteTask(ctx, "base", "w0", "lease-0", "done", true))
	f.addTask(t, "t1", "BACKEND", taskboard.StatusPending, "base")

	result := pick(t, f, config.Runtime{}, "backend", "w1")
	assert.Nil(t, result.Task, "unreviewed work must not unblock dependents")
	assert.Equal(t, taskboard.NoWorkDeps, result.NoWork)

	// Approval flips the gate.
	require.NoError(t, f.guard.ApproveWork(ctx, "base", ""))
	result = pick(t, f, config.Runtime{}, "backend", "w1")
	require.NotNil(t, result.Task)
	assert.Equal(t, "t1", result.Task.ID)
}

func TestPickTaskRoleFailClosed(t *testing.T) {
	t.Run("unknown type denied when role is required", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addTask(t, "t1", "BACKEND", taskboard.StatusPending)

		_, err := f.sched.PickTask(context.Background(), config.Runtime{RequireWorkerRole: true}, "mystery", "w1", time.Minute)
		assert.ErrorIs(t, err, ErrRoleUnresolved)

		stored, getErr := f.store.GetTask(context.Background(), "t1")
		require.NoError(t, getErr)
		assert.Equal(t, taskboard.StatusPending, stored.Status, "denied pick claims nothing")
	})

	t.Run("unknown type sees everything when role is optional", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addTask(t, "t1", "FRONTEND", taskboard.StatusPending)

		result := pick(t, f, config.Runtime{}, "mystery", "w1")
		require.NotNil(t, result.Task, "unresolved role without the knob means no lane gate")
	})
}

func TestPickTaskHeartbeatRoleInference(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	presence, err := taskboard.NewPresence(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { presence.Close() })

	f := newFixture(t, presence)
	ctx := context.Background()
	f.addTask(t, "t1", "QA", taskboard.StatusPending)
	f.addTask(t, "t2", "BACKEND", taskboard.StatusPending)

	// Worker type is not in mesh.yml, but its heartbeat declares lanes.
	require.NoError(t, presence.Beat(ctx, &taskboard.WorkerHeartbeat{
		WorkerID: "w1", WorkerType: "contractor", AllowedLanes: []string{"QA"},
	}, time.Minute))

	result := pick(t, f, config.Runtime{RequireWorkerRole: true}, "contractor", "w1")
	require.NotNil(t, result.Task)
	assert.Equal(t, "t1", result.Task.ID, "heartbeat lanes admit QA only")
}

func TestPickTaskLaneRotation(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "b1", "BACKEND", taskboard.StatusPending)
	f.addTask(t, "b2", "BACKEND", taskboard.StatusPending)
	f.addTask(t, "f1", "FRONTEND", taskboard.StatusPending)
	f.addTask(t, "q1", "QA", taskboard.StatusPending)

	var lanes []string
	for i := 0; i < 4; i++ {
		result := pick(t, f, config.Runtime{}, "floater", "w1")
		require.NotNil(t, result.Task, "pick %d", i)
		if i == 0 {
			assert.True(t, result.Rotation, "multiple eligible lanes means rotation decided")
		}
		lanes = append(lanes, result.Task.Lane)
	}

	// Rotation cycles lanes instead of draining BACKEND first.
	assert.Equal(t, []string{"BACKEND", "FRONTEND", "QA", "BACKEND"}, lanes)
}

func TestPickTaskRotationCursorPersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addTask(t, "b1", "BACKEND", taskboard.StatusPending)
	f.addTask(t, "f1", "FRONTEND", taskboard.StatusPending)

	result := pick(t, f, config.Runtime{}, "floater", "w1")
	require.NotNil(t, result.Task)
	assert.Equal(t, "BACKEND", result.Task.Lane)

	cursor, ok, err := f.store.ConfigGet(ctx, "lane_rotation_cursor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BACKEND", cursor)
}

func TestPickTaskSkipsLostRaces(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addTask(t, "t1", "BACKEND", taskboard.StatusPending)
	f.addTask(t, "t2", "BACKEND", taskboard.StatusPending)

	// t1 is claimed between the scheduler's read and its conditional update.
	// Claiming it up front through the guard models the same lost race.
	require.NoError(t, f.guard.Claim(ctx, "t1", "rival", "rival-lease"))

	result := pick(t, f, config.Runtime{}, "backend", "w1")
	require.NotNil(t, result.Task)
	assert.Equal(t, "t2", result.Task.ID, "lost race falls through to the next candidate")
}
