package coordinator

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/mesh/internal/api"
	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/drift"
	"github.com/meshworks/mesh/internal/scheduler"
	"github.com/meshworks/mesh/pkg/taskboard"
)

const testDraft = `version: "1.0"
tasks:
  - id: setup-db
    lane: BACKEND
    description: provision the database
  - id: api-endpoints
    lane: BACKEND
    deps: [setup-db]
`

type apiFixture struct {
	engine *Engine
	client *api.Client
	dir    string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	meshCfg := &config.MeshConfig{
		Version:  "1.0",
		Instance: "test",
		Redis:    config.RedisConfig{Addr: mr.Addr()},
		Paths: config.PathsConfig{
			Database: filepath.Join(dir, "mesh.db"),
			Ledger:   filepath.Join(dir, "ledger.jsonl"),
			Mirror:   filepath.Join(dir, "tasks.json"),
		},
		Workers: map[string]config.WorkerType{
			"backend": {Lanes: []string{"BACKEND"}},
			"qa":      {Lanes: []string{"QA"}, Reviewer: true},
		},
	}

	engine, err := NewEngine(meshCfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	server := httptest.NewServer(engine.routes())
	t.Cleanup(server.Close)

	return &apiFixture{
		engine: engine,
		client: api.NewClient(server.URL),
		dir:    dir,
	}
}

func (f *apiFixture) writeDraft(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (f *apiFixture) acceptDraft(t *testing.T) string {
	t.Helper()
	path := f.writeDraft(t, testDraft)
	res, err := f.client.AcceptPlan(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, res.Accepted)
	return path
}

func TestAPITaskLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.acceptDraft(t)

	// Pick: setup-db is the only dependency-free task.
	pick, err := f.client.PickTask(ctx, &api.PickTaskRequest{WorkerType: "backend", WorkerID: "w1"})
	require.NoError(t, err)
	require.NotNil(t, pick.Task)
	assert.Equal(t, "setup-db", pick.Task.ID)
	require.NotEmpty(t, pick.LeaseID)

	// Renew keeps the lease alive without a status change.
	require.NoError(t, f.client.RenewLease(ctx, &api.RenewLeaseRequest{
		TaskID: "setup-db", WorkerID: "w1", LeaseID: pick.LeaseID,
	}))

	// Completion stages for review; the dependent stays blocked.
	require.NoError(t, f.client.CompleteTask(ctx, &api.CompleteTaskRequest{
		TaskID: "setup-db", WorkerID: "w1", LeaseID: pick.LeaseID,
		Output: "database up", Success: true,
	}))

	blocked, err := f.client.PickTask(ctx, &api.PickTaskRequest{WorkerType: "backend", WorkerID: "w1"})
	require.NoError(t, err)
	assert.Nil(t, blocked.Task)
	assert.Equal(t, taskboard.NoWorkDeps, blocked.NoWork)

	// Reviewer approval unblocks the dependent.
	require.NoError(t, f.client.ApproveWork(ctx, &api.ApproveWorkRequest{
		TaskID: "setup-db", WorkerType: "qa", Notes: "verified",
	}))

	next, err := f.client.PickTask(ctx, &api.PickTaskRequest{WorkerType: "backend", WorkerID: "w1"})
	require.NoError(t, err)
	require.NotNil(t, next.Task)
	assert.Equal(t, "api-endpoints", next.Task.ID)

	list, err := f.client.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list.Tasks, 2)
}

func TestAPIClaimConflict(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.acceptDraft(t)

	first, err := f.client.ClaimTask(ctx, &api.ClaimTaskRequest{TaskID: "setup-db", WorkerID: "w1"})
	require.NoError(t, err)
	require.NotEmpty(t, first.LeaseID)

	// The conflict comes back as the same sentinel an in-process caller sees.
	_, err = f.client.ClaimTask(ctx, &api.ClaimTaskRequest{TaskID: "setup-db", WorkerID: "w2"})
	assert.True(t, taskboard.IsAlreadyClaimed(err))
}

func TestAPILeaseMismatch(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.acceptDraft(t)

	_, err := f.client.ClaimTask(ctx, &api.ClaimTaskRequest{TaskID: "setup-db", WorkerID: "w1"})
	require.NoError(t, err)

	err = f.client.RenewLease(ctx, &api.RenewLeaseRequest{
		TaskID: "setup-db", WorkerID: "w1", LeaseID: "not-the-lease",
	})
	assert.True(t, taskboard.IsLeaseMismatch(err))

	err = f.client.CompleteTask(ctx, &api.CompleteTaskRequest{
		TaskID: "setup-db", WorkerID: "w1", LeaseID: "not-the-lease", Success: true,
	})
	assert.True(t, taskboard.IsLeaseMismatch(err))
}

func TestAPINotFound(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.client.ClaimTask(context.Background(), &api.ClaimTaskRequest{TaskID: "ghost", WorkerID: "w1"})
	assert.True(t, taskboard.IsNotFound(err))
}

func TestAPIReviewerGate(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.acceptDraft(t)

	claim, err := f.client.ClaimTask(ctx, &api.ClaimTaskRequest{TaskID: "setup-db", WorkerID: "w1"})
	require.NoError(t, err)
	require.NoError(t, f.client.CompleteTask(ctx, &api.CompleteTaskRequest{
		TaskID: "setup-db", WorkerID: "w1", LeaseID: claim.LeaseID, Success: true,
	}))

	// A non-reviewer type cannot swing the gavel, not even its own worker.
	err = f.client.ApproveWork(ctx, &api.ApproveWorkRequest{TaskID: "setup-db", WorkerType: "backend"})
	assert.Error(t, err)

	err = f.client.RejectWork(ctx, &api.RejectWorkRequest{TaskID: "setup-db", WorkerType: "backend"})
	assert.Error(t, err)

	task, err := f.engine.store.GetTask(ctx, "setup-db")
	require.NoError(t, err)
	assert.Equal(t, taskboard.StatusReview, task.Status, "denied verdicts change nothing")
}

func TestAPIRejectWithReassignment(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.acceptDraft(t)

	claim, err := f.client.ClaimTask(ctx, &api.ClaimTaskRequest{TaskID: "setup-db", WorkerID: "w1"})
	require.NoError(t, err)
	require.NoError(t, f.client.CompleteTask(ctx, &api.CompleteTaskRequest{
		TaskID: "setup-db", WorkerID: "w1", LeaseID: claim.LeaseID, Success: true,
	}))

	require.NoError(t, f.client.RejectWork(ctx, &api.RejectWorkRequest{
		TaskID: "setup-db", WorkerType: "qa", Feedback: "migrations missing", Reassign: true,
	}))

	// Back in the pool and claimable by another worker.
	pick, err := f.client.PickTask(ctx, &api.PickTaskRequest{WorkerType: "backend", WorkerID: "w2"})
	require.NoError(t, err)
	require.NotNil(t, pick.Task)
	assert.Equal(t, "setup-db", pick.Task.ID)
}

func TestAPIRoleFailClosed(t *testing.T) {
	f := newAPIFixture(t)
	f.acceptDraft(t)
	t.Setenv(config.EnvRequireWorkerRole, "true")

	_, err := f.client.PickTask(context.Background(), &api.PickTaskRequest{
		WorkerType: "mystery", WorkerID: "w1",
	})
	assert.ErrorIs(t, err, scheduler.ErrRoleUnresolved)
}

func TestAPIPlanDrift(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	path := f.acceptDraft(t)

	st, err := f.client.PlanDrift(ctx, path)
	require.NoError(t, err)
	assert.False(t, st.Drifted)
	assert.Equal(t, st.DraftHash, st.AcceptedHash)

	// Edit the draft: drift until re-acceptance.
	edited := testDraft + "  - id: docs\n    lane: BACKEND\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	st, err = f.client.PlanDrift(ctx, path)
	require.NoError(t, err)
	assert.True(t, st.Drifted)
	assert.Equal(t, drift.HashBytes([]byte(edited)), st.DraftHash)

	res, err := f.client.AcceptPlan(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Skipped)

	st, err = f.client.PlanDrift(ctx, path)
	require.NoError(t, err)
	assert.False(t, st.Drifted)
}

func TestAPIAcceptPlanRejectsBadDraft(t *testing.T) {
	f := newAPIFixture(t)
	path := f.writeDraft(t, "version: \"1.0\"\ntasks:\n  - id: a\n    lane: L\n    deps: [b]\n  - id: b\n    lane: L\n    deps: [a]\n")

	_, err := f.client.AcceptPlan(context.Background(), path)
	assert.Error(t, err)
}

func TestAPIListWorkers(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	list, err := f.client.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Workers)

	require.NoError(t, f.engine.presence.Beat(ctx, &taskboard.WorkerHeartbeat{
		WorkerID: "w1", WorkerType: "backend",
	}, time.Minute))

	list, err = f.client.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, list.Workers, 1)
	assert.Equal(t, "w1", list.Workers[0].WorkerID)
}

func TestAPIBadRequests(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	_, err := f.client.PickTask(ctx, &api.PickTaskRequest{WorkerID: "w1"})
	assert.Error(t, err, "missing worker_type")

	_, err = f.client.ClaimTask(ctx, &api.ClaimTaskRequest{WorkerID: "w1"})
	assert.Error(t, err, "missing task_id")

	err = f.client.CompleteTask(ctx, &api.CompleteTaskRequest{TaskID: "t1", WorkerID: "w1"})
	assert.Error(t, err, "missing lease_id")

	_, err = f.client.PlanDrift(ctx, "")
	assert.Error(t, err, "missing draft path")
}
