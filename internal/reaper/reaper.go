// Package reaper implements the stale-lease sweep: the sole crash-recovery
// mechanism in Mesh. A worker that dies is detected purely by renewal
// silence; the reaper converts that silence into a state change after the
// configured grace period, returning the task to the pending pool.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/guard"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// Reaper periodically reclaims in_progress tasks whose leases have gone
// silent past the stale threshold.
type Reaper struct {
	store *taskboard.Store
	guard *guard.ConsistencyGuard
}

// New creates a reaper over the given store and guard.
func New(store *taskboard.Store, g *guard.ConsistencyGuard) *Reaper {
	return &Reaper{store: store, guard: g}
}

// Run sweeps at the given interval until the context is cancelled. The
// runtime knobs are re-read each sweep so threshold changes apply without a
// restart.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	log.Printf("[Reaper] Starting with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Reaper] Shutting down")
			return
		case <-ticker.C:
			rt, err := config.FromEnv()
			if err != nil {
				log.Printf("[Reaper] Config warning: %v", err)
			}
			if _, err := r.Sweep(ctx, rt); err != nil {
				log.Printf("[Reaper] Sweep failed: %v", err)
			}
		}
	}
}

// Sweep reclaims every task whose lease went silent before the stale
// threshold and returns the number reclaimed. Each reclaim is a conditional
// update keyed on the observed lease and the threshold, so a task renewed,
// completed, or re-claimed mid-sweep is never double-processed. The sweep is
// idempotent and safe to run concurrently with claims.
func (r *Reaper) Sweep(ctx context.Context, rt config.Runtime) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, rt.OpTimeout)
	defer cancel()

	cutoffMs := taskboard.NowMs() - rt.StaleThreshold().Milliseconds()
	candidates, err := r.store.ListStale(opCtx, cutoffMs)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, t := range candidates {
		reaped, err := r.guard.Reap(ctx, t.ID, t.WorkerID, t.LeaseID, cutoffMs)
		if err != nil {
			log.Printf("[Reaper] Failed to reclaim task %s: %v", t.ID, err)
			continue
		}
		if reaped {
			log.Printf("[Reaper] Reclaimed task %s from worker %s (lease %s silent past %s)",
				t.ID, t.WorkerID, t.LeaseID, rt.StaleThreshold())
			reclaimed++
		}
	}
	return reclaimed, nil
}
