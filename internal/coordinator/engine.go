// Package coordinator wires the Mesh core together: the durable store, the
// consistency guard, lease manager, scheduler, stale reaper, drift detector,
// and mirror exporter, exposed to workers and operator tooling through a
// JSON-over-HTTP API. One coordinator process owns the store; workers are
// external processes that connect over the API and Redis.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/drift"
	"github.com/meshworks/mesh/internal/export"
	"github.com/meshworks/mesh/internal/guard"
	"github.com/meshworks/mesh/internal/lease"
	"github.com/meshworks/mesh/internal/ledger"
	"github.com/meshworks/mesh/internal/reaper"
	"github.com/meshworks/mesh/internal/scheduler"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// Engine is the coordinator runtime. Construct with NewEngine, run with Run,
// release resources with Close.
type Engine struct {
	meshCfg  *config.MeshConfig
	store    *taskboard.Store
	presence *taskboard.Presence
	ledger   *ledger.Ledger
	guard    *guard.ConsistencyGuard
	leases   *lease.Manager
	sched    *scheduler.Scheduler
	drift    *drift.Detector
	reaper   *reaper.Reaper
	exporter *export.Exporter
	server   *http.Server
}

// NewEngine opens the instance's durable and ephemeral state and assembles
// the component graph. The store's single status-mutation handle is taken
// here and given to the consistency guard; everything else holds read-only
// or append-only access.
func NewEngine(meshCfg *config.MeshConfig) (*Engine, error) {
	rt, err := config.FromEnv()
	if err != nil {
		log.Printf("[Coordinator] Config warning: %v", err)
	}

	store, err := taskboard.Open(meshCfg.Paths.Database, taskboard.StoreOptions{
		WALAutoCheckpoint: rt.WALAutoCheckpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	presence, err := taskboard.NewPresence(&redis.Options{Addr: meshCfg.Redis.Addr}, meshCfg.Instance)
	if err != nil {
		store.Close()
		return nil, err
	}

	lg, err := ledger.Open(meshCfg.Paths.Ledger)
	if err != nil {
		store.Close()
		presence.Close()
		return nil, err
	}

	mutator, err := store.Mutator()
	if err != nil {
		store.Close()
		presence.Close()
		lg.Close()
		return nil, err
	}

	g := guard.New(mutator, lg, presence)
	leases := lease.NewManager(g)

	e := &Engine{
		meshCfg:  meshCfg,
		store:    store,
		presence: presence,
		ledger:   lg,
		guard:    g,
		leases:   leases,
		sched:    scheduler.New(store, leases, g, presence, meshCfg),
		drift:    drift.NewDetector(),
		reaper:   reaper.New(store, g),
		exporter: export.New(store, meshCfg.Paths.Mirror),
	}
	return e, nil
}

// Run starts the API server, the stale reaper, and the mirror exporter, and
// blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("[Coordinator] Starting for instance '%s' on %s", e.meshCfg.Instance, e.meshCfg.Listen)

	e.server = &http.Server{
		Addr:         e.meshCfg.Listen,
		Handler:      e.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go e.reaper.Run(ctx, time.Duration(e.meshCfg.ReapIntervalSecs)*time.Second)
	go e.exporter.Run(ctx, time.Duration(e.meshCfg.ExportIntervalSecs)*time.Second)

	select {
	case <-ctx.Done():
		log.Printf("[Coordinator] Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{e.ledger, e.presence, e.store} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
