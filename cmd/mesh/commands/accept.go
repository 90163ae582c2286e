package commands

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/printer"
)

var acceptCmd = &cobra.Command{
	Use:   "accept <draft.yml>",
	Short: "Accept a draft plan into the task set",
	Long: `Accept a draft plan, inserting its tasks into the coordinator's task set.

The draft's content hash is recorded on every accepted task, so later edits
to the draft show up as plan drift (see 'mesh drift'). Acceptance is
idempotent per task ID: re-accepting an unchanged draft changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccept,
}

func init() {
	rootCmd.AddCommand(acceptCmd)
}

func runAccept(cmd *cobra.Command, args []string) error {
	draftPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	res, err := apiClient().AcceptPlan(context.Background(), draftPath)
	if err != nil {
		return printer.Error("Plan acceptance failed", err.Error(), nil)
	}

	printer.Success("Accepted %s (hash %.12s)\n", draftPath, res.DraftHash)
	printer.Info("  %d new task(s), %d already present\n", res.Accepted, res.Skipped)
	return nil
}
