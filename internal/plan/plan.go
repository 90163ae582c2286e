// Package plan implements the acceptance flow: parsing a YAML draft plan,
// validating its task graph, and inserting the tasks into the store stamped
// with the draft's content hash. Acceptance is the only way tasks enter the
// system.
package plan

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meshworks/mesh/internal/drift"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// acceptedHashKeyPrefix namespaces the per-draft accepted hash entries in
// the config KV table.
const acceptedHashKeyPrefix = "accepted_plan_hash:"

// Draft represents a parsed draft plan document.
type Draft struct {
	Version string      `yaml:"version"`
	Tasks   []DraftTask `yaml:"tasks"`
}

// DraftTask is one task declaration in a draft plan.
type DraftTask struct {
	ID            string   `yaml:"id"`
	Lane          string   `yaml:"lane"`
	Type          string   `yaml:"type,omitempty"`
	Description   string   `yaml:"description,omitempty"`
	Risk          string   `yaml:"risk,omitempty"`
	EntropyMarker string   `yaml:"entropy_marker,omitempty"`
	Deps          []string `yaml:"deps,omitempty"`
}

// Result summarizes an acceptance run.
type Result struct {
	DraftHash string
	Accepted  int // Tasks newly inserted
	Skipped   int // Tasks whose IDs already existed (idempotent re-accept)
}

// Validate checks the draft's structure: unique IDs, known dependency
// references, and an acyclic dependency graph. Cycles are rejected here, at
// acceptance, rather than discovered later as permanently deps-blocked work.
func (d *Draft) Validate() error {
	if d.Version != "1.0" {
		return fmt.Errorf("unsupported draft version: %s (expected: 1.0)", d.Version)
	}
	if len(d.Tasks) == 0 {
		return fmt.Errorf("draft declares no tasks")
	}

	byID := make(map[string]*DraftTask, len(d.Tasks))
	for i := range d.Tasks {
		t := &d.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("draft task %d: id is required", i)
		}
		if t.Lane == "" {
			return fmt.Errorf("draft task %s: lane is required", t.ID)
		}
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q in draft", t.ID)
		}
		byID[t.ID] = t
	}

	for _, t := range d.Tasks {
		for _, dep := range t.Deps {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %q", t.ID, dep)
			}
		}
	}

	return detectCycles(byID)
}

// detectCycles runs a three-color DFS over the dependency graph.
func detectCycles(byID map[string]*DraftTask) error {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(byID))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].Deps {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle: %v -> %s", path, dep)
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range byID {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse reads and validates a draft plan file, returning the draft and the
// content hash of its raw bytes.
func Parse(path string) (*Draft, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read draft %s: %w", path, err)
	}

	var d Draft
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, "", fmt.Errorf("failed to parse draft %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid draft %s: %w", path, err)
	}
	return &d, drift.HashBytes(data), nil
}

// Accept parses the draft at path and inserts its tasks as pending, each
// stamped with the draft's content hash. Insertion is idempotent per task
// ID: re-accepting an unchanged draft is a no-op. The draft's hash is
// recorded in the config KV table so drift queries can compare against it.
func Accept(ctx context.Context, store *taskboard.Store, path string) (*Result, error) {
	d, hash, err := Parse(path)
	if err != nil {
		return nil, err
	}

	res := &Result{DraftHash: hash}
	now := taskboard.NowMs()
	for _, dt := range d.Tasks {
		t := &taskboard.Task{
			ID:             dt.ID,
			Lane:           dt.Lane,
			Type:           dt.Type,
			Description:    dt.Description,
			Status:         taskboard.StatusPending,
			Risk:           dt.Risk,
			EntropyMarker:  dt.EntropyMarker,
			SourcePlanHash: hash,
			Deps:           dt.Deps,
			CreatedAtMs:    now,
			UpdatedAtMs:    now,
		}
		inserted, err := store.InsertTask(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to accept task %s: %w", dt.ID, err)
		}
		if inserted {
			res.Accepted++
		} else {
			res.Skipped++
		}
	}

	if err := store.ConfigSet(ctx, acceptedHashKeyPrefix+path, hash); err != nil {
		return nil, err
	}
	log.Printf("[Plan] Accepted draft %s (hash %.12s): %d new, %d existing",
		path, hash, res.Accepted, res.Skipped)
	return res, nil
}

// AcceptedHash returns the hash recorded the last time the draft at path was
// accepted, or "" when it never was.
func AcceptedHash(ctx context.Context, store *taskboard.Store, path string) (string, error) {
	hash, _, err := store.ConfigGet(ctx, acceptedHashKeyPrefix+path)
	return hash, err
}
