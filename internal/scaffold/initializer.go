// Package scaffold creates the starter files for a new Mesh instance: a
// mesh.yml with a reasonable worker-type registry and an example draft plan.
// Generated files are validated with the same parsers the coordinator uses,
// so a freshly scaffolded instance is guaranteed to load.
package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/plan"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo describes one file to be created during initialization.
type FileInfo struct {
	Path    string
	Content []byte
}

// Files returns the scaffold's file set.
func Files() ([]FileInfo, error) {
	out := make([]FileInfo, 0, 2)
	for _, f := range []struct{ tmpl, path string }{
		{"templates/mesh.yml.tmpl", "mesh.yml"},
		{"templates/plan.yml.tmpl", "plan.yml"},
	} {
		content, err := templatesFS.ReadFile(f.tmpl)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", f.tmpl, err)
		}
		out = append(out, FileInfo{Path: f.path, Content: content})
	}
	return out, nil
}

// Initialize writes the scaffold into the current directory. With force set,
// existing files are overwritten; otherwise CheckExisting runs first.
func Initialize(force bool) error {
	if !force {
		if err := CheckExisting(); err != nil {
			return err
		}
	}

	files, err := Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.WriteFile(f.Path, f.Content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}

	return validateCreated()
}

// validateCreated loads the generated files through the production parsers.
func validateCreated() error {
	if _, err := config.Load("mesh.yml"); err != nil {
		return fmt.Errorf("generated mesh.yml failed validation: %w", err)
	}
	if _, _, err := plan.Parse("plan.yml"); err != nil {
		return fmt.Errorf("generated plan.yml failed validation: %w", err)
	}
	return nil
}
