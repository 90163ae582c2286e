// Package taskboard provides the shared type definitions, SQLite task store,
// and Redis presence schema for the Mesh coordination core. The taskboard is
// the central shared state that all Mesh components (coordinator, workers,
// CLI) interact with via well-defined data structures.
//
// Durable task state lives in a single SQLite database owned by the
// coordinator process. Worker heartbeats and task lifecycle events are
// ephemeral and live in Redis, namespaced by instance name so multiple Mesh
// instances can safely coexist on a single Redis server.
package taskboard

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting to be claimed by a worker.
	StatusPending Status = "pending"

	// StatusInProgress indicates a worker holds a live lease on the task.
	StatusInProgress Status = "in_progress"

	// StatusReview indicates a worker reported success and the task is
	// waiting for a reviewer verdict. Only a reviewer action moves a task
	// from here to completed; the executing worker never self-certifies.
	StatusReview Status = "review"

	// StatusCompleted indicates a reviewer approved the finished work.
	StatusCompleted Status = "completed"

	// StatusBlocked indicates the task is administratively held.
	StatusBlocked Status = "blocked"

	// StatusFailed indicates the worker reported failure or a reviewer
	// rejected the work without reassignment.
	StatusFailed Status = "failed"
)

// IsValid reports whether s is a known task status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReview, StatusCompleted, StatusBlocked, StatusFailed:
		return true
	}
	return false
}

// NoWorkReason classifies why a pick returned no task. It is diagnostic
// state for operators and dashboards, never an error.
type NoWorkReason string

const (
	// NoWorkLane means pending work exists but none of it is admitted by
	// the requesting worker's lane set.
	NoWorkLane NoWorkReason = "lane"

	// NoWorkDeps means pending work exists but every candidate is blocked
	// by an incomplete dependency.
	NoWorkDeps NoWorkReason = "deps"

	// NoWorkEmpty means no tasks exist at all.
	NoWorkEmpty NoWorkReason = "empty"

	// NoWorkNone is the defensive fallback: tasks exist, none are gated,
	// and yet nothing was selected.
	NoWorkNone NoWorkReason = "none"
)

// Task represents a unit of work on the taskboard.
//
// WorkerID and LeaseID are empty strings unless the task is in_progress, in
// which case both are set: a live claim is always the full
// (task, worker, lease) tuple. UpdatedAtMs is the sole heartbeat signal for
// a lease; renewals advance it without touching any other field.
type Task struct {
	ID            string   `json:"id"`
	Lane          string   `json:"lane"`           // Work category (e.g. BACKEND, FRONTEND, QA)
	Type          string   `json:"type"`           // User-defined task type
	Description   string   `json:"description"`    // Human-readable summary
	Status        Status   `json:"status"`         // Current lifecycle state
	WorkerID      string   `json:"worker_id"`      // Owning worker while in_progress
	LeaseID       string   `json:"lease_id"`       // Lease token while in_progress
	Risk          string   `json:"risk"`           // Classification metadata for QA policy
	EntropyMarker string   `json:"entropy_marker"` // Classification metadata for scheduling policy
	SourcePlanHash string  `json:"source_plan_hash"` // Hash of the plan draft this task was accepted from
	Output        string   `json:"output"`         // Worker-reported result payload
	Deps          []string `json:"deps"`           // Task IDs that must be completed first
	CreatedAtMs   int64    `json:"created_at_ms"`  // Unix milliseconds at insertion
	UpdatedAtMs   int64    `json:"updated_at_ms"`  // Unix milliseconds of last mutation or renewal
}

// Validate checks structural invariants on the task.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if t.Lane == "" {
		return fmt.Errorf("task %s: lane cannot be empty", t.ID)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if t.Status == StatusInProgress && (t.WorkerID == "" || t.LeaseID == "") {
		return fmt.Errorf("task %s: in_progress requires worker_id and lease_id", t.ID)
	}
	if t.Status != StatusInProgress && t.Status != StatusReview && t.Status != StatusCompleted && t.Status != StatusFailed && t.LeaseID != "" {
		return fmt.Errorf("task %s: status %s cannot carry a lease", t.ID, t.Status)
	}
	for _, dep := range t.Deps {
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
	}
	return nil
}

// WorkerHeartbeat is the ephemeral liveness record for a worker. It is
// refreshed on every poll and lease renewal and expires from Redis on
// silence. Heartbeats are observational: they inform role inference and
// dashboards but are never authoritative for task state.
type WorkerHeartbeat struct {
	WorkerID     string   `json:"worker_id"`
	WorkerType   string   `json:"worker_type"`
	AllowedLanes []string `json:"allowed_lanes"`
	LastSeenMs   int64    `json:"last_seen_ms"`
	TaskIDs      []string `json:"task_ids"` // Tasks currently claimed by this worker
}

// Validate checks structural invariants on the heartbeat.
func (h *WorkerHeartbeat) Validate() error {
	if h.WorkerID == "" {
		return fmt.Errorf("heartbeat worker_id cannot be empty")
	}
	if h.WorkerType == "" {
		return fmt.Errorf("heartbeat for %s: worker_type cannot be empty", h.WorkerID)
	}
	return nil
}

// TaskEvent is a lifecycle notification published to the instance's task
// events channel for dashboards and watchers. Events are fire-and-forget;
// the SQLite task table remains the source of truth.
type TaskEvent struct {
	Kind     string `json:"kind"` // claimed, renewed, completed, failed, approved, rejected, reaped, deny
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id,omitempty"`
	LeaseID  string `json:"lease_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
	AtMs     int64  `json:"at_ms"`
}

// NowMs returns the current wall clock in unix milliseconds, the timestamp
// resolution used throughout the taskboard.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
