package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/meshworks/mesh/pkg/taskboard"
)

// Runner executes one claimed task and returns its output. A non-nil error
// reports the task as failed; cancellation of ctx means the worker's lease
// went stale and any side effects should be abandoned.
type Runner func(ctx context.Context, task *taskboard.Task) (output string, err error)

// EchoRunner is the built-in no-op runner used when no command is
// configured: it acknowledges the task without doing work. Useful for
// smoke-testing an instance.
func EchoRunner(_ context.Context, task *taskboard.Task) (string, error) {
	return fmt.Sprintf("echo: %s (%s)", task.ID, task.Description), nil
}

// CommandRunner returns a Runner that executes the configured command with
// the task serialized as JSON on stdin. Stdout becomes the task output; a
// non-zero exit reports failure with stderr in the error.
func CommandRunner(command []string) Runner {
	return func(ctx context.Context, task *taskboard.Task) (string, error) {
		payload, err := json.Marshal(task)
		if err != nil {
			return "", fmt.Errorf("failed to serialize task %s: %w", task.ID, err)
		}

		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Stdin = bytes.NewReader(payload)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("task command failed: %w (stderr: %s)",
				err, strings.TrimSpace(stderr.String()))
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
