// Package guard implements the single mutation path for task status. Every
// status transition in the system (claim, renewal, completion, reviewer
// verdict, reclaim) funnels through the ConsistencyGuard, which holds the
// store's one Mutator handle. No other component can write status.
//
// The guard also enforces the one-gavel rule: a worker reporting success
// stages the task for review; only a distinct reviewer action may mark it
// completed. Denied completions are always audited because they represent a
// correctness boundary being enforced.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/meshworks/mesh/internal/ledger"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// ConsistencyGuard validates and applies task status transitions.
type ConsistencyGuard struct {
	mutator  *taskboard.Mutator
	ledger   *ledger.Ledger
	presence *taskboard.Presence // Optional; nil disables event publishing
}

// New creates a ConsistencyGuard around the store's mutation handle.
// presence may be nil when no event bus is available.
func New(mutator *taskboard.Mutator, lg *ledger.Ledger, presence *taskboard.Presence) *ConsistencyGuard {
	return &ConsistencyGuard{
		mutator:  mutator,
		ledger:   lg,
		presence: presence,
	}
}

// Claim atomically transitions a pending task to in_progress under the given
// (worker, lease) pair. A lost race surfaces as taskboard.ErrAlreadyClaimed;
// callers treat it as an ordinary outcome and retry their pick.
func (g *ConsistencyGuard) Claim(ctx context.Context, taskID, workerID, leaseID string) error {
	if err := g.mutator.ClaimPending(ctx, taskID, workerID, leaseID, taskboard.NowMs()); err != nil {
		return err
	}
	g.publish(ctx, &taskboard.TaskEvent{
		Kind: "claimed", TaskID: taskID, WorkerID: workerID, LeaseID: leaseID, AtMs: taskboard.NowMs(),
	})
	return nil
}

// Renew advances the lease heartbeat. Never changes status. A stale tuple
// surfaces as taskboard.ErrLeaseMismatch with no mutation; the caller must
// stop work and discard local state.
func (g *ConsistencyGuard) Renew(ctx context.Context, taskID, workerID, leaseID string) error {
	return g.mutator.RenewLease(ctx, taskID, workerID, leaseID, taskboard.NowMs())
}

// CompleteTask applies a worker's completion report. The (worker, lease)
// tuple is validated conditionally in the store: a reaped or reassigned task
// yields ErrLeaseMismatch, no mutation, and an audited denial. On success,
// success=true stages the task for review and success=false fails it
// directly.
func (g *ConsistencyGuard) CompleteTask(ctx context.Context, taskID, workerID, leaseID, output string, success bool) error {
	to := taskboard.StatusReview
	if !success {
		to = taskboard.StatusFailed
	}

	err := g.mutator.CompleteConditional(ctx, taskID, workerID, leaseID, to, output, taskboard.NowMs())
	if taskboard.IsLeaseMismatch(err) {
		g.audit(ledger.Entry{
			EventType: ledger.EventCompleteTaskDeny,
			TaskID:    taskID,
			WorkerID:  workerID,
			LeaseID:   leaseID,
			Detail:    "stale lease on completion attempt",
		})
		g.logEvent("complete_task_deny", map[string]any{
			"task_id": taskID, "worker_id": workerID, "lease_id": leaseID,
		})
		g.publish(ctx, &taskboard.TaskEvent{
			Kind: "deny", TaskID: taskID, WorkerID: workerID, LeaseID: leaseID, AtMs: taskboard.NowMs(),
		})
		return err
	}
	if err != nil {
		return err
	}

	if !success {
		g.audit(ledger.Entry{
			EventType: ledger.EventWorkFailed,
			TaskID:    taskID,
			WorkerID:  workerID,
			LeaseID:   leaseID,
			Detail:    "worker reported failure",
		})
	}
	kind := "completed"
	if !success {
		kind = "failed"
	}
	g.publish(ctx, &taskboard.TaskEvent{
		Kind: kind, TaskID: taskID, WorkerID: workerID, LeaseID: leaseID, AtMs: taskboard.NowMs(),
	})
	return nil
}

// ApproveWork is the reviewer gavel: review → completed. Fails when the task
// is not staged for review.
func (g *ConsistencyGuard) ApproveWork(ctx context.Context, taskID, notes string) error {
	if err := g.mutator.FinalizeReview(ctx, taskID, taskboard.StatusCompleted, taskboard.NowMs()); err != nil {
		return err
	}
	g.audit(ledger.Entry{
		EventType: ledger.EventWorkApproved,
		TaskID:    taskID,
		Detail:    notes,
	})
	g.publish(ctx, &taskboard.TaskEvent{Kind: "approved", TaskID: taskID, AtMs: taskboard.NowMs()})
	return nil
}

// RejectWork applies a reviewer rejection: back to pending with the owner
// cleared when reassign is set, otherwise failed.
func (g *ConsistencyGuard) RejectWork(ctx context.Context, taskID, feedback string, reassign bool) error {
	to := taskboard.StatusFailed
	if reassign {
		to = taskboard.StatusPending
	}
	if err := g.mutator.FinalizeReview(ctx, taskID, to, taskboard.NowMs()); err != nil {
		return err
	}
	g.audit(ledger.Entry{
		EventType: ledger.EventWorkRejected,
		TaskID:    taskID,
		Detail:    fmt.Sprintf("reassign=%t feedback=%s", reassign, feedback),
	})
	g.publish(ctx, &taskboard.TaskEvent{Kind: "rejected", TaskID: taskID, Detail: feedback, AtMs: taskboard.NowMs()})
	return nil
}

// Reap reclaims one silent task for the stale reaper. Reports false when the
// task was renewed, completed, or re-claimed in the meantime.
func (g *ConsistencyGuard) Reap(ctx context.Context, taskID, workerID, leaseID string, cutoffMs int64) (bool, error) {
	reaped, err := g.mutator.ReapOne(ctx, taskID, leaseID, cutoffMs, taskboard.NowMs())
	if err != nil || !reaped {
		return reaped, err
	}
	g.audit(ledger.Entry{
		EventType: ledger.EventTaskReaped,
		TaskID:    taskID,
		WorkerID:  workerID,
		LeaseID:   leaseID,
		Detail:    "lease went silent past threshold",
	})
	g.publish(ctx, &taskboard.TaskEvent{
		Kind: "reaped", TaskID: taskID, WorkerID: workerID, LeaseID: leaseID, AtMs: taskboard.NowMs(),
	})
	return true, nil
}

// AuditRoleUnresolved records a fail-closed admission denial. The denial is
// surfaced to the operator through the ledger rather than silently defaulted.
func (g *ConsistencyGuard) AuditRoleUnresolved(workerID, workerType string) {
	g.audit(ledger.Entry{
		EventType: ledger.EventRoleUnresolved,
		WorkerID:  workerID,
		Detail:    fmt.Sprintf("worker_type=%s", workerType),
	})
	g.logEvent("role_unresolved", map[string]any{
		"worker_id": workerID, "worker_type": workerType,
	})
}

func (g *ConsistencyGuard) audit(e ledger.Entry) {
	if g.ledger == nil {
		return
	}
	if err := g.ledger.Append(e); err != nil {
		log.Printf("[Guard] Failed to append %s to ledger: %v", e.EventType, err)
	}
}

func (g *ConsistencyGuard) publish(ctx context.Context, ev *taskboard.TaskEvent) {
	if g.presence == nil {
		return
	}
	if err := g.presence.PublishTaskEvent(ctx, ev); err != nil {
		log.Printf("[Guard] Failed to publish %s event for task %s: %v", ev.Kind, ev.TaskID, err)
	}
}

func (g *ConsistencyGuard) logEvent(eventType string, data map[string]any) {
	event := map[string]any{"event": eventType}
	for k, v := range data {
		event[k] = v
	}
	if jsonData, err := json.Marshal(event); err == nil {
		log.Printf("[Guard] EVENT: %s", string(jsonData))
	}
}
