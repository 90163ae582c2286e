package taskboard

import (
	"context"
	"database/sql"
	"fmt"
)

// Mutator is the sole handle through which task status can change. Every
// method is a single conditional UPDATE keyed on the full identity tuple of
// the transition it performs, so two concurrent callers attempting the same
// transition race safely: exactly one succeeds, the other observes zero rows
// affected and gets the matching sentinel error.
type Mutator struct {
	db *sql.DB
}

// ClaimPending atomically transitions a pending, unowned task to in_progress
// and stamps the (worker, lease) pair. Returns ErrAlreadyClaimed when another
// claim won the race (or the task is otherwise not claimable), ErrNotFound
// when no such task exists.
func (m *Mutator) ClaimPending(ctx context.Context, taskID, workerID, leaseID string, nowMs int64) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, worker_id = ?, lease_id = ?, updated_at_ms = ?
		WHERE id = ? AND status = ? AND worker_id = '' AND lease_id = ''`,
		string(StatusInProgress), workerID, leaseID, nowMs,
		taskID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("claim update for task %s failed: %w", taskID, err)
	}
	return m.mapZeroRows(ctx, res, taskID, ErrAlreadyClaimed)
}

// RenewLease advances updated_at_ms for a live lease. The statement cannot
// touch status by construction. Returns ErrLeaseMismatch when the caller's
// (worker, lease) pair no longer matches the row, ErrNotFound when the task
// does not exist.
func (m *Mutator) RenewLease(ctx context.Context, taskID, workerID, leaseID string, nowMs int64) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE tasks
		SET updated_at_ms = ?
		WHERE id = ? AND status = ? AND worker_id = ? AND lease_id = ?`,
		nowMs,
		taskID, string(StatusInProgress), workerID, leaseID)
	if err != nil {
		return fmt.Errorf("renew update for task %s failed: %w", taskID, err)
	}
	return m.mapZeroRows(ctx, res, taskID, ErrLeaseMismatch)
}

// CompleteConditional moves an in_progress task to the given terminal-side
// status (review or failed), recording the worker output, only if the
// caller's (worker, lease) pair still matches the row. A reaped or reassigned
// task yields ErrLeaseMismatch with no mutation.
func (m *Mutator) CompleteConditional(ctx context.Context, taskID, workerID, leaseID string, to Status, output string, nowMs int64) error {
	if to != StatusReview && to != StatusFailed {
		return fmt.Errorf("invalid completion status %q for task %s", to, taskID)
	}
	res, err := m.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, output = ?, updated_at_ms = ?
		WHERE id = ? AND status = ? AND worker_id = ? AND lease_id = ?`,
		string(to), output, nowMs,
		taskID, string(StatusInProgress), workerID, leaseID)
	if err != nil {
		return fmt.Errorf("complete update for task %s failed: %w", taskID, err)
	}
	return m.mapZeroRows(ctx, res, taskID, ErrLeaseMismatch)
}

// FinalizeReview applies a reviewer verdict to a task in review. Approval
// moves it to completed; rejection moves it back to pending (clearing the
// owner so it can be reclaimed) or to failed. Fails when the task is not in
// review.
func (m *Mutator) FinalizeReview(ctx context.Context, taskID string, to Status, nowMs int64) error {
	var res sql.Result
	var err error
	if to == StatusPending {
		res, err = m.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, worker_id = '', lease_id = '', updated_at_ms = ?
			WHERE id = ? AND status = ?`,
			string(StatusPending), nowMs, taskID, string(StatusReview))
	} else if to == StatusCompleted || to == StatusFailed {
		res, err = m.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, updated_at_ms = ?
			WHERE id = ? AND status = ?`,
			string(to), nowMs, taskID, string(StatusReview))
	} else {
		return fmt.Errorf("invalid review verdict %q for task %s", to, taskID)
	}
	if err != nil {
		return fmt.Errorf("review update for task %s failed: %w", taskID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	current, getErr := m.currentStatus(ctx, taskID)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("task %s is %s, not %s", taskID, current, StatusReview)
}

// ReapOne reclaims a single silent task: in_progress, still holding the
// observed lease, and not renewed since cutoffMs. A task that was renewed,
// completed, or re-claimed in the meantime is left untouched and the call
// reports false. Safe to run concurrently with claims and renewals.
func (m *Mutator) ReapOne(ctx context.Context, taskID, leaseID string, cutoffMs, nowMs int64) (bool, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, worker_id = '', lease_id = '', updated_at_ms = ?
		WHERE id = ? AND status = ? AND lease_id = ? AND updated_at_ms < ?`,
		string(StatusPending), nowMs,
		taskID, string(StatusInProgress), leaseID, cutoffMs)
	if err != nil {
		return false, fmt.Errorf("reap update for task %s failed: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// mapZeroRows turns a zero-rows-affected conditional update into the right
// sentinel: ErrNotFound when the task is missing entirely, otherwise the
// supplied race/staleness error.
func (m *Mutator) mapZeroRows(ctx context.Context, res sql.Result, taskID string, lost error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := m.currentStatus(ctx, taskID); err != nil {
		return err
	}
	return fmt.Errorf("task %s: %w", taskID, lost)
}

func (m *Mutator) currentStatus(ctx context.Context, taskID string) (Status, error) {
	var status string
	err := m.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	return Status(status), nil
}
