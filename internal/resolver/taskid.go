// Package resolver resolves task ID prefixes typed by operators into full
// task IDs. Plan authors tend to use long descriptive IDs; the CLI lets an
// operator type a unique prefix instead.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshworks/mesh/internal/api"
)

// MinPrefixLength is the minimum accepted prefix length. Two characters keeps
// lookups cheap to type while avoiding wildly ambiguous single-letter matches.
const MinPrefixLength = 2

// ResolveTaskID resolves a task ID or unique prefix against the coordinator's
// task table. An exact match always wins, so a task ID that happens to prefix
// another remains addressable.
func ResolveTaskID(ctx context.Context, client *api.Client, prefix string) (string, error) {
	if len(prefix) < MinPrefixLength {
		return "", fmt.Errorf("task id prefix must be at least %d characters (got %d)", MinPrefixLength, len(prefix))
	}

	list, err := client.ListTasks(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list tasks: %w", err)
	}

	var matches []string
	for _, t := range list.Tasks {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: prefix, Matches: matches}
	}
}

// NotFoundError indicates no task matched the prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tasks found matching '%s'", e.Prefix)
}

// AmbiguousError indicates multiple tasks matched the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous task id '%s' matches %d tasks", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError renders an ambiguous match for the operator, listing
// up to 10 candidates.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous task id '%s' matches %d tasks:\n", err.Prefix, len(err.Matches))

	shown := len(err.Matches)
	if shown > 10 {
		shown = 10
	}
	for i := 0; i < shown; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}
	b.WriteString("\nUse a longer prefix to uniquely identify the task.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
