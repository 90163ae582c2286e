// Package scheduler selects the next eligible task for a requesting worker.
// Selection applies role-based lane admission (failing closed when required
// roles cannot be resolved), dependency gating, and round-robin lane
// rotation so no lane starves while another drains.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/guard"
	"github.com/meshworks/mesh/internal/lease"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// ErrRoleUnresolved indicates fail-closed admission: role resolution was
// required but no lane set could be determined for the worker. Surfaced to
// the operator, never silently defaulted.
var ErrRoleUnresolved = errors.New("worker role unresolved")

// rotationCursorKey is the config KV key holding the last lane served, so
// rotation survives coordinator restarts.
const rotationCursorKey = "lane_rotation_cursor"

// PickResult is the outcome of a pick: either a claimed task with its lease,
// or a classified no-work reason. No-work is a first-class result, not an
// error.
type PickResult struct {
	Task    *taskboard.Task
	LeaseID string
	NoWork  taskboard.NoWorkReason
	// Rotation reports that lane rotation, not scarcity, decided among
	// multiple eligible lanes.
	Rotation bool
}

// Scheduler reads the store, resolves worker roles, and claims the selected
// task through the lease manager so pick and claim form a single effective
// reservation from the caller's point of view.
type Scheduler struct {
	store    *taskboard.Store
	leases   *lease.Manager
	guard    *guard.ConsistencyGuard
	presence *taskboard.Presence // Optional; used for heartbeat role inference
	meshCfg  *config.MeshConfig
}

// New creates a scheduler. presence may be nil, in which case role inference
// uses only the mesh.yml worker-type registry.
func New(store *taskboard.Store, leases *lease.Manager, g *guard.ConsistencyGuard, presence *taskboard.Presence, meshCfg *config.MeshConfig) *Scheduler {
	return &Scheduler{
		store:    store,
		leases:   leases,
		guard:    g,
		presence: presence,
		meshCfg:  meshCfg,
	}
}

// PickTask selects and atomically claims the next eligible task for the
// requesting worker. rt is read fresh by the caller per operation so knob
// changes apply without restart.
func (s *Scheduler) PickTask(ctx context.Context, rt config.Runtime, workerType, workerID string, leaseDuration time.Duration) (*PickResult, error) {
	lanes, resolved := s.resolveLanes(ctx, workerType, workerID)
	if !resolved && rt.RequireWorkerRole {
		s.guard.AuditRoleUnresolved(workerID, workerType)
		return nil, fmt.Errorf("worker %s (type %q): %w", workerID, workerType, ErrRoleUnresolved)
	}

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		// A slow or failing store degrades the decision to a conservative
		// no-work rather than guessing.
		log.Printf("[Scheduler] Store read failed, degrading to no work: %v", err)
		return &PickResult{NoWork: taskboard.NoWorkNone}, nil
	}

	eligible, reason := s.filter(tasks, lanes, resolved)
	if len(eligible) == 0 {
		return &PickResult{NoWork: reason}, nil
	}

	byLane, laneNames := groupByLane(eligible)
	rotated := s.rotate(ctx, laneNames)

	for _, laneName := range rotated {
		for _, candidate := range byLane[laneName] {
			leaseID, err := s.leases.Claim(ctx, candidate.ID, workerID, leaseDuration)
			if taskboard.IsAlreadyClaimed(err) {
				// Lost the race; an ordinary outcome. Try the next candidate.
				continue
			}
			if err != nil {
				return nil, err
			}
			s.advanceCursor(ctx, laneName)
			claimed := *candidate
			claimed.Status = taskboard.StatusInProgress
			claimed.WorkerID = workerID
			claimed.LeaseID = leaseID
			return &PickResult{
				Task:     &claimed,
				LeaseID:  leaseID,
				Rotation: len(laneNames) > 1,
			}, nil
		}
	}

	// Every candidate was claimed out from under us between the read and
	// the conditional update.
	return &PickResult{NoWork: taskboard.NoWorkNone}, nil
}

// resolveLanes determines the lane set a worker may pull from: the mesh.yml
// worker-type registry first, then the worker's live heartbeat record. The
// second return is false when neither source yields a lane set.
func (s *Scheduler) resolveLanes(ctx context.Context, workerType, workerID string) ([]string, bool) {
	if s.meshCfg != nil {
		if lanes, ok := s.meshCfg.LanesFor(workerType); ok {
			return lanes, true
		}
	}
	if s.presence != nil && workerID != "" {
		hb, err := s.presence.GetWorker(ctx, workerID)
		if err != nil {
			log.Printf("[Scheduler] Heartbeat lookup for %s failed: %v", workerID, err)
		} else if hb != nil && len(hb.AllowedLanes) > 0 {
			return hb.AllowedLanes, true
		}
	}
	return nil, false
}

// filter returns the claimable candidates (pending, dependencies complete,
// lane admitted) and, when empty, the no-work classification.
func (s *Scheduler) filter(tasks []*taskboard.Task, lanes []string, laneGated bool) ([]*taskboard.Task, taskboard.NoWorkReason) {
	if len(tasks) == 0 {
		return nil, taskboard.NoWorkEmpty
	}

	completed := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == taskboard.StatusCompleted {
			completed[t.ID] = true
		}
	}
	admitted := laneSet(lanes)

	var eligible []*taskboard.Task
	pendingCount := 0
	depsMetCount := 0
	for _, t := range tasks {
		if t.Status != taskboard.StatusPending {
			continue
		}
		pendingCount++
		if !depsMet(t, completed) {
			continue
		}
		depsMetCount++
		if laneGated && admitted != nil && !admitted[t.Lane] {
			continue
		}
		eligible = append(eligible, t)
	}

	if len(eligible) > 0 {
		return eligible, ""
	}
	switch {
	case depsMetCount > 0:
		// Claimable work exists but every candidate sits outside the
		// worker's lanes.
		return nil, taskboard.NoWorkLane
	case pendingCount > 0:
		return nil, taskboard.NoWorkDeps
	default:
		return nil, taskboard.NoWorkNone
	}
}

// rotate orders lane names round-robin starting after the last served lane.
func (s *Scheduler) rotate(ctx context.Context, laneNames []string) []string {
	if len(laneNames) <= 1 {
		return laneNames
	}
	cursor, ok, err := s.store.ConfigGet(ctx, rotationCursorKey)
	if err != nil {
		log.Printf("[Scheduler] Rotation cursor read failed: %v", err)
	}

	start := 0
	if ok {
		for i, name := range laneNames {
			if name == cursor {
				start = i + 1
				break
			}
			// Cursor lane currently has no eligible work: resume from the
			// first lane sorting after it.
			if name > cursor {
				start = i
				break
			}
		}
	}

	rotated := make([]string, 0, len(laneNames))
	for i := 0; i < len(laneNames); i++ {
		rotated = append(rotated, laneNames[(start+i)%len(laneNames)])
	}
	return rotated
}

func (s *Scheduler) advanceCursor(ctx context.Context, laneName string) {
	if err := s.store.ConfigSet(ctx, rotationCursorKey, laneName); err != nil {
		log.Printf("[Scheduler] Rotation cursor write failed: %v", err)
	}
}

func groupByLane(tasks []*taskboard.Task) (map[string][]*taskboard.Task, []string) {
	byLane := make(map[string][]*taskboard.Task)
	for _, t := range tasks {
		byLane[t.Lane] = append(byLane[t.Lane], t)
	}
	names := make([]string, 0, len(byLane))
	for name := range byLane {
		names = append(names, name)
	}
	sort.Strings(names)
	return byLane, names
}

func laneSet(lanes []string) map[string]bool {
	if lanes == nil {
		return nil
	}
	set := make(map[string]bool, len(lanes))
	for _, lane := range lanes {
		set[lane] = true
	}
	return set
}

func depsMet(t *taskboard.Task, completed map[string]bool) bool {
	for _, dep := range t.Deps {
		if !completed[dep] {
			return false
		}
	}
	return true
}
