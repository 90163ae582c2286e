// Package export maintains the periodic JSON mirror of the task table for
// external tooling. The mirror is derived and observational: it is rewritten
// wholesale on each cycle and never read back by Mesh itself.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/meshworks/mesh/pkg/taskboard"
)

// Mirror is the JSON document written to the mirror file.
type Mirror struct {
	ExportedAtMs int64             `json:"exported_at_ms"`
	Tasks        []*taskboard.Task `json:"tasks"`
}

// Exporter writes task-table snapshots to a JSON file.
type Exporter struct {
	store *taskboard.Store
	path  string
}

// New creates an exporter writing to path.
func New(store *taskboard.Store, path string) *Exporter {
	return &Exporter{store: store, path: path}
}

// Run exports at the given interval until the context is cancelled.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	log.Printf("[Export] Mirroring tasks to %s every %s", e.path, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Export] Shutting down")
			return
		case <-ticker.C:
			if err := e.Export(ctx); err != nil {
				log.Printf("[Export] Failed: %v", err)
			}
		}
	}
}

// Export writes one snapshot. The file is written to a temp sibling and
// renamed into place so readers never observe a partial mirror.
func (e *Exporter) Export(ctx context.Context) error {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*taskboard.Task{}
	}

	data, err := json.MarshalIndent(&Mirror{
		ExportedAtMs: taskboard.NowMs(),
		Tasks:        tasks,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mirror: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".mesh-mirror-*")
	if err != nil {
		return fmt.Errorf("failed to create mirror temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish mirror: %w", err)
	}
	return nil
}
