package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/meshworks/mesh/internal/api"
	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/plan"
	"github.com/meshworks/mesh/internal/scheduler"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// defaultLeaseDurationSecs is used when a pick or claim omits the declared
// lease duration.
const defaultLeaseDurationSecs = 600

func (e *Engine) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks/pick", e.handlePickTask)
	mux.HandleFunc("POST /v1/tasks/claim", e.handleClaimTask)
	mux.HandleFunc("POST /v1/tasks/renew", e.handleRenewLease)
	mux.HandleFunc("POST /v1/tasks/complete", e.handleCompleteTask)
	mux.HandleFunc("POST /v1/tasks/approve", e.handleApproveWork)
	mux.HandleFunc("POST /v1/tasks/reject", e.handleRejectWork)
	mux.HandleFunc("GET /v1/tasks", e.handleListTasks)
	mux.HandleFunc("GET /v1/workers", e.handleListWorkers)
	mux.HandleFunc("GET /v1/plan/drift", e.handlePlanDrift)
	mux.HandleFunc("POST /v1/plan/accept", e.handleAcceptPlan)
	mux.HandleFunc("GET /healthz", e.handleHealthz)
	return mux
}

// opContext applies the per-operation store timeout. A slow store degrades
// the caller's decision rather than blocking indefinitely.
func opContext(r *http.Request, rt config.Runtime) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), rt.OpTimeout)
}

func (e *Engine) handlePickTask(w http.ResponseWriter, r *http.Request) {
	var req api.PickTaskRequest
	if !decode(w, r, &req) {
		return
	}
	if req.WorkerID == "" || req.WorkerType == "" {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "worker_id and worker_type are required")
		return
	}
	if req.LeaseDurationSecs <= 0 {
		req.LeaseDurationSecs = defaultLeaseDurationSecs
	}

	rt := e.runtime()
	ctx, cancel := opContext(r, rt)
	defer cancel()

	res, err := e.sched.PickTask(ctx, rt, req.WorkerType, req.WorkerID,
		time.Duration(req.LeaseDurationSecs)*time.Second)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if res.Task == nil {
		writeJSON(w, http.StatusOK, api.PickTaskResponse{NoWork: res.NoWork})
		return
	}
	writeJSON(w, http.StatusOK, api.PickTaskResponse{
		Task:     res.Task,
		LeaseID:  res.LeaseID,
		Rotation: res.Rotation,
	})
}

func (e *Engine) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	var req api.ClaimTaskRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TaskID == "" || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "task_id and worker_id are required")
		return
	}
	if req.LeaseDurationSecs <= 0 {
		req.LeaseDurationSecs = defaultLeaseDurationSecs
	}

	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	leaseID, err := e.leases.Claim(ctx, req.TaskID, req.WorkerID,
		time.Duration(req.LeaseDurationSecs)*time.Second)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ClaimTaskResponse{LeaseID: leaseID})
}

func (e *Engine) handleRenewLease(w http.ResponseWriter, r *http.Request) {
	var req api.RenewLeaseRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	if err := e.leases.Renew(ctx, req.TaskID, req.WorkerID, req.LeaseID); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (e *Engine) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteTaskRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TaskID == "" || req.WorkerID == "" || req.LeaseID == "" {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "task_id, worker_id, and lease_id are required")
		return
	}
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	if err := e.guard.CompleteTask(ctx, req.TaskID, req.WorkerID, req.LeaseID, req.Output, req.Success); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (e *Engine) handleApproveWork(w http.ResponseWriter, r *http.Request) {
	var req api.ApproveWorkRequest
	if !decode(w, r, &req) {
		return
	}
	if !e.meshCfg.IsReviewer(req.WorkerType) {
		writeError(w, http.StatusForbidden, api.CodeForbidden, "worker type is not a reviewer")
		return
	}
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	if err := e.guard.ApproveWork(ctx, req.TaskID, req.Notes); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (e *Engine) handleRejectWork(w http.ResponseWriter, r *http.Request) {
	var req api.RejectWorkRequest
	if !decode(w, r, &req) {
		return
	}
	if !e.meshCfg.IsReviewer(req.WorkerType) {
		writeError(w, http.StatusForbidden, api.CodeForbidden, "worker type is not a reviewer")
		return
	}
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	if err := e.guard.RejectWork(ctx, req.TaskID, req.Feedback, req.Reassign); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (e *Engine) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: tasks})
}

func (e *Engine) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	workers, err := e.presence.ListWorkers(ctx)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.WorkerListResponse{Workers: workers})
}

func (e *Engine) handlePlanDrift(w http.ResponseWriter, r *http.Request) {
	draftPath := r.URL.Query().Get("draft")
	if draftPath == "" {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "draft query parameter is required")
		return
	}
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	accepted, err := plan.AcceptedHash(ctx, e.store, draftPath)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	status, err := e.drift.Status(draftPath, accepted)
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.DriftResponse{Status: *status, AcceptedHash: accepted})
}

func (e *Engine) handleAcceptPlan(w http.ResponseWriter, r *http.Request) {
	var req api.AcceptPlanRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DraftPath == "" {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "draft_path is required")
		return
	}
	ctx, cancel := opContext(r, e.runtime())
	defer cancel()

	res, err := plan.Accept(ctx, e.store, req.DraftPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.AcceptPlanResponse{
		DraftHash: res.DraftHash,
		Accepted:  res.Accepted,
		Skipped:   res.Skipped,
	})
}

// runtime reads the MESH_* knobs fresh for this operation.
func (e *Engine) runtime() config.Runtime {
	rt, err := config.FromEnv()
	if err != nil {
		log.Printf("[Coordinator] Config warning: %v", err)
	}
	return rt
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "malformed request body")
		return false
	}
	return true
}

// writeCoreError maps core sentinel errors onto the API error taxonomy.
// Races and staleness are expected conditions: they come back as structured
// conflicts for the caller to handle locally, not as server faults.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case taskboard.IsAlreadyClaimed(err):
		writeError(w, http.StatusConflict, api.CodeAlreadyClaimed, err.Error())
	case taskboard.IsLeaseMismatch(err):
		writeError(w, http.StatusConflict, api.CodeLeaseMismatch, err.Error())
	case errors.Is(err, scheduler.ErrRoleUnresolved):
		writeError(w, http.StatusForbidden, api.CodeRoleUnresolved, err.Error())
	case taskboard.IsNotFound(err):
		writeError(w, http.StatusNotFound, api.CodeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Coordinator] Failed to encode response: %v", err)
	}
}
