package worker

import (
	"context"
	"log"
	"sync"
	"time"

	meshcfg "github.com/meshworks/mesh/internal/config"

	"github.com/meshworks/mesh/internal/api"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// noWorkBackoff is how long the work loop sleeps after an empty pick before
// polling again.
const noWorkBackoff = 5 * time.Second

// Engine is the worker runtime. It manages two concurrent goroutines:
//   - Heartbeat loop: publishes this worker's liveness record to Redis on
//     the configured cadence
//   - Work loop: picks, executes, renews, and completes tasks
//
// The engine coordinates shutdown through context cancellation: a worker
// stops renewing when it stops, and the coordinator's reaper converts that
// silence into reclaimed work.
type Engine struct {
	config   *Config
	client   *api.Client
	presence *taskboard.Presence
	runner   Runner

	mu      sync.Mutex
	current string // Task ID currently being executed, "" when idle
}

// New creates a worker engine. runner may be nil, in which case the
// configured command (or the built-in echo runner) is used.
func New(cfg *Config, client *api.Client, presence *taskboard.Presence, runner Runner) *Engine {
	if runner == nil {
		if len(cfg.Command) > 0 {
			runner = CommandRunner(cfg.Command)
		} else {
			runner = EchoRunner
		}
	}
	return &Engine{
		config:   cfg,
		client:   client,
		presence: presence,
		runner:   runner,
	}
}

// Start launches the heartbeat and work goroutines and blocks until the
// context is cancelled and both complete their shutdown.
func (e *Engine) Start(ctx context.Context) error {
	log.Printf("[Worker] Starting worker='%s' type='%s' instance='%s'",
		e.config.WorkerID, e.config.WorkerType, e.config.InstanceName)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.workLoop(ctx)
	}()
	wg.Wait()

	log.Printf("[Worker] Shutdown complete for worker='%s'", e.config.WorkerID)
	return nil
}

// heartbeatLoop publishes the liveness record on the configured cadence.
// Heartbeats are observational; a failed beat is logged and retried on the
// next tick, never fatal.
func (e *Engine) heartbeatLoop(ctx context.Context) {
	rt, err := meshcfg.FromEnv()
	if err != nil {
		log.Printf("[Worker] Config warning: %v", err)
	}

	e.beat(ctx, rt)
	ticker := time.NewTicker(time.Duration(rt.HeartbeatSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Re-read the knobs so cadence changes apply without restart.
			rt, _ = meshcfg.FromEnv()
			e.beat(ctx, rt)
		}
	}
}

func (e *Engine) beat(ctx context.Context, rt meshcfg.Runtime) {
	e.mu.Lock()
	var taskIDs []string
	if e.current != "" {
		taskIDs = []string{e.current}
	}
	e.mu.Unlock()

	hb := &taskboard.WorkerHeartbeat{
		WorkerID:   e.config.WorkerID,
		WorkerType: e.config.WorkerType,
		LastSeenMs: taskboard.NowMs(),
		TaskIDs:    taskIDs,
	}
	beatCtx, cancel := context.WithTimeout(ctx, rt.OpTimeout)
	defer cancel()
	if err := e.presence.Beat(beatCtx, hb, rt.HeartbeatTTL()); err != nil {
		log.Printf("[Worker] Heartbeat failed: %v", err)
	}
}

// workLoop picks and executes tasks until the context is cancelled.
func (e *Engine) workLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := e.client.PickTask(ctx, &api.PickTaskRequest{
			WorkerType: e.config.WorkerType,
			WorkerID:   e.config.WorkerID,
		})
		if err != nil {
			log.Printf("[Worker] Pick failed: %v", err)
			e.sleep(ctx, noWorkBackoff)
			continue
		}
		if res.Task == nil {
			log.Printf("[Worker] No work (reason=%s)", res.NoWork)
			e.sleep(ctx, noWorkBackoff)
			continue
		}

		e.execute(ctx, res.Task, res.LeaseID)
	}
}

// execute runs one claimed task under a renewal ticker. A renewal rejection
// means this worker's authority is stale (the task was reaped and possibly
// reassigned): execution is cancelled, local state discarded, and no
// completion is reported.
func (e *Engine) execute(ctx context.Context, task *taskboard.Task, leaseID string) {
	rt, err := meshcfg.FromEnv()
	if err != nil {
		log.Printf("[Worker] Config warning: %v", err)
	}

	log.Printf("[Worker] Executing task %s (lane %s, lease %s)", task.ID, task.Lane, leaseID)
	e.setCurrent(task.ID)
	defer e.setCurrent("")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	type runResult struct {
		output string
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		output, err := e.runner(runCtx, task)
		done <- runResult{output, err}
	}()

	renewTicker := time.NewTicker(time.Duration(rt.LeaseRenewSecs) * time.Second)
	defer renewTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutting down: stop renewing and let the reaper reclaim.
			cancelRun()
			<-done
			return

		case <-renewTicker.C:
			err := e.client.RenewLease(ctx, &api.RenewLeaseRequest{
				TaskID:   task.ID,
				WorkerID: e.config.WorkerID,
				LeaseID:  leaseID,
			})
			if taskboard.IsLeaseMismatch(err) {
				log.Printf("[Worker] Lease for task %s is stale; abandoning work", task.ID)
				cancelRun()
				<-done
				return
			}
			if err != nil {
				// Transient renewal failure: keep working, try again next
				// tick. Silence past the stale threshold is the reaper's
				// call, not ours.
				log.Printf("[Worker] Renewal for task %s failed: %v", task.ID, err)
			}

		case result := <-done:
			req := &api.CompleteTaskRequest{
				TaskID:   task.ID,
				WorkerID: e.config.WorkerID,
				LeaseID:  leaseID,
				Success:  result.err == nil,
				Output:   result.output,
			}
			if result.err != nil {
				req.Output = result.err.Error()
			}
			if err := e.client.CompleteTask(ctx, req); err != nil {
				if taskboard.IsLeaseMismatch(err) {
					log.Printf("[Worker] Completion of task %s denied (stale lease); discarding result", task.ID)
				} else {
					log.Printf("[Worker] Failed to report completion of task %s: %v", task.ID, err)
				}
				return
			}
			log.Printf("[Worker] Task %s finished (success=%t)", task.ID, result.err == nil)
			return
		}
	}
}

func (e *Engine) setCurrent(taskID string) {
	e.mu.Lock()
	e.current = taskID
	e.mu.Unlock()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
