// Package api defines the JSON request/response contract of the coordinator
// HTTP API and a typed client for it. Payloads are validated once at this
// boundary; downstream components work only with the typed forms.
package api

import (
	"github.com/meshworks/mesh/internal/drift"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// Error codes carried in ErrorResponse. They mirror the coordination error
// taxonomy: races and staleness are expected steady-state conditions the
// caller handles locally.
const (
	CodeAlreadyClaimed = "ALREADY_CLAIMED"
	CodeLeaseMismatch  = "LEASE_MISMATCH"
	CodeRoleUnresolved = "ROLE_UNRESOLVED"
	CodeNotFound       = "NOT_FOUND"
	CodeBadRequest     = "BAD_REQUEST"
	CodeForbidden      = "FORBIDDEN"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the JSON body of any non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// PickTaskRequest asks the scheduler for the next eligible task. A granted
// pick is already claimed: the response lease is live and the caller owes
// renewals.
type PickTaskRequest struct {
	WorkerType        string `json:"worker_type"`
	WorkerID          string `json:"worker_id"`
	LeaseDurationSecs int    `json:"lease_duration_s,omitempty"` // Default 600
}

// PickTaskResponse carries either a claimed task or a no-work reason.
// NoWork is a normal empty-queue signal, not an error.
type PickTaskResponse struct {
	Task     *taskboard.Task       `json:"task,omitempty"`
	LeaseID  string                `json:"lease_id,omitempty"`
	NoWork   taskboard.NoWorkReason `json:"no_work,omitempty"`
	Rotation bool                  `json:"rotation,omitempty"` // Lane rotation decided the tie
}

// ClaimTaskRequest claims a specific pending task directly.
type ClaimTaskRequest struct {
	TaskID            string `json:"task_id"`
	WorkerID          string `json:"worker_id"`
	LeaseDurationSecs int    `json:"lease_duration_s,omitempty"`
}

// ClaimTaskResponse returns the newly issued lease token.
type ClaimTaskResponse struct {
	LeaseID string `json:"lease_id"`
}

// RenewLeaseRequest refreshes the heartbeat for a live lease.
type RenewLeaseRequest struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	LeaseID  string `json:"lease_id"`
}

// CompleteTaskRequest reports the outcome of executed work.
type CompleteTaskRequest struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	LeaseID  string `json:"lease_id"`
	Output   string `json:"output,omitempty"`
	Success  bool   `json:"success"`
}

// ApproveWorkRequest is the reviewer approval of a task staged for review.
// WorkerType must belong to a reviewer-flagged worker type.
type ApproveWorkRequest struct {
	TaskID     string `json:"task_id"`
	WorkerType string `json:"worker_type"`
	Notes      string `json:"notes,omitempty"`
}

// RejectWorkRequest is the reviewer rejection of a task staged for review.
type RejectWorkRequest struct {
	TaskID     string `json:"task_id"`
	WorkerType string `json:"worker_type"`
	Feedback   string `json:"feedback,omitempty"`
	Reassign   bool   `json:"reassign"`
}

// AcceptPlanRequest submits a draft plan file for acceptance. The path is
// resolved on the coordinator host.
type AcceptPlanRequest struct {
	DraftPath string `json:"draft_path"`
}

// AcceptPlanResponse summarizes an acceptance run.
type AcceptPlanResponse struct {
	DraftHash string `json:"draft_hash"`
	Accepted  int    `json:"accepted"`
	Skipped   int    `json:"skipped"`
}

// OKResponse acknowledges a successful mutation with no payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// DriftResponse reports plan drift for a draft path.
type DriftResponse struct {
	drift.Status
	AcceptedHash string `json:"accepted_hash,omitempty"`
}

// TaskListResponse is the full task table snapshot.
type TaskListResponse struct {
	Tasks []*taskboard.Task `json:"tasks"`
}

// WorkerListResponse is the live worker view from heartbeats.
type WorkerListResponse struct {
	Workers []*taskboard.WorkerHeartbeat `json:"workers"`
}
