package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/api"
	"github.com/meshworks/mesh/internal/printer"
	"github.com/meshworks/mesh/internal/resolver"
)

var (
	reviewerType   string
	approveNotes   string
	rejectFeedback string
	rejectReassign bool
)

var approveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a task staged for review",
	Long: `Approve finished work, moving the task from review to completed.

Completion is reviewer-gated: the worker that executed the task cannot mark
it completed itself. Every approval is recorded in the release ledger.

The task may be given as a unique ID prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <task-id>",
	Short: "Reject a task staged for review",
	Long: `Reject finished work. With --reassign the task returns to the pending pool
for another worker; without it the task is marked failed. Every rejection is
recorded in the release ledger.

The task may be given as a unique ID prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runReject,
}

func init() {
	approveCmd.Flags().StringVar(&reviewerType, "as", "reviewer", "Reviewer worker type applying the verdict")
	approveCmd.Flags().StringVar(&approveNotes, "notes", "", "Review notes for the ledger")
	rejectCmd.Flags().StringVar(&reviewerType, "as", "reviewer", "Reviewer worker type applying the verdict")
	rejectCmd.Flags().StringVar(&rejectFeedback, "feedback", "", "Rejection feedback for the ledger")
	rejectCmd.Flags().BoolVar(&rejectReassign, "reassign", false, "Return the task to the pending pool")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

// resolveTaskArg expands a task ID prefix against the coordinator, printing
// the candidate list when the prefix is ambiguous.
func resolveTaskArg(ctx context.Context, client *api.Client, arg string) (string, error) {
	taskID, err := resolver.ResolveTaskID(ctx, client, arg)
	if err != nil {
		if ambiguous, ok := err.(*resolver.AmbiguousError); ok {
			return "", printer.Error("Ambiguous task id", resolver.FormatAmbiguousError(ambiguous), nil)
		}
		return "", err
	}
	return taskID, nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := apiClient()

	taskID, err := resolveTaskArg(ctx, client, args[0])
	if err != nil {
		return err
	}

	err = client.ApproveWork(ctx, &api.ApproveWorkRequest{
		TaskID:     taskID,
		WorkerType: reviewerType,
		Notes:      approveNotes,
	})
	if err != nil {
		return printer.Error("Approval failed", err.Error(), nil)
	}
	printer.Success("Task %s approved and completed\n", taskID)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := apiClient()

	taskID, err := resolveTaskArg(ctx, client, args[0])
	if err != nil {
		return err
	}

	err = client.RejectWork(ctx, &api.RejectWorkRequest{
		TaskID:     taskID,
		WorkerType: reviewerType,
		Feedback:   rejectFeedback,
		Reassign:   rejectReassign,
	})
	if err != nil {
		return printer.Error("Rejection failed", err.Error(), nil)
	}
	if rejectReassign {
		printer.Warning("Task %s rejected and returned to the pending pool\n", taskID)
	} else {
		printer.Warning("Task %s rejected and marked failed\n", taskID)
	}
	return nil
}
