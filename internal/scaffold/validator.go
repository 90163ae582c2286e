package scaffold

import (
	"fmt"
	"os"
	"strings"
)

// CheckExisting fails when the current directory already holds an
// initialized Mesh instance.
func CheckExisting() error {
	var existing []string
	for _, name := range []string{"mesh.yml", "plan.yml"} {
		if _, err := os.Stat(name); err == nil {
			existing = append(existing, name)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	return fmt.Errorf("instance already initialized\n\nFound existing: %s\n\nUse 'mesh init --force' to reinitialize (this overwrites the existing configuration)",
		strings.Join(existing, ", "))
}
