// Package lease issues and renews the lease tokens binding one worker to one
// task. A lease is time-bounded only by silence: renewal is advisory and
// best-effort from the worker's perspective, and the stale reaper is the
// sole authority that converts a silent lease into a state change.
package lease

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/mesh/internal/guard"
)

// Manager issues, renews, and validates leases. All state changes go through
// the consistency guard; the manager's job is token generation and argument
// discipline.
type Manager struct {
	guard *guard.ConsistencyGuard
}

// NewManager creates a lease manager backed by the given guard.
func NewManager(g *guard.ConsistencyGuard) *Manager {
	return &Manager{guard: g}
}

// Claim attempts to take ownership of a pending task for workerID, returning
// the new lease token. Fails with taskboard.ErrAlreadyClaimed when another
// worker's conditional update wins the race; the caller answers by picking
// again.
//
// leaseDuration is the worker's declared intent and is recorded for
// diagnostics only; actual expiry is governed by the stale threshold on
// renewal silence.
func (m *Manager) Claim(ctx context.Context, taskID, workerID string, leaseDuration time.Duration) (string, error) {
	if taskID == "" || workerID == "" {
		return "", fmt.Errorf("claim requires task and worker ids")
	}
	if leaseDuration <= 0 {
		return "", fmt.Errorf("claim requires a positive lease duration")
	}

	leaseID := uuid.New().String()
	if err := m.guard.Claim(ctx, taskID, workerID, leaseID); err != nil {
		return "", err
	}
	log.Printf("[Lease] Claimed task %s for worker %s (lease %s, declared %s)",
		taskID, workerID, leaseID, leaseDuration)
	return leaseID, nil
}

// Renew refreshes the lease heartbeat for the exact (task, worker, lease)
// tuple. Renewal never changes status. A stale tuple fails with
// taskboard.ErrLeaseMismatch and performs no mutation: the caller must stop
// work and discard its local state rather than retry the same lease.
func (m *Manager) Renew(ctx context.Context, taskID, workerID, leaseID string) error {
	if taskID == "" || workerID == "" || leaseID == "" {
		return fmt.Errorf("renew requires task, worker, and lease ids")
	}
	return m.guard.Renew(ctx, taskID, workerID, leaseID)
}
