package commands

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/printer"
)

var driftCmd = &cobra.Command{
	Use:   "drift <draft.yml>",
	Short: "Check whether a draft plan has drifted since acceptance",
	Long: `Compare a draft plan's current content hash against the hash recorded when
its tasks were last accepted.

Drift means a newer draft exists than what the task set was built from; the
task set itself is never changed by this check. Re-accept the draft to clear
the drift.`,
	Args: cobra.ExactArgs(1),
	RunE: runDrift,
}

func init() {
	rootCmd.AddCommand(driftCmd)
}

func runDrift(cmd *cobra.Command, args []string) error {
	draftPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	res, err := apiClient().PlanDrift(context.Background(), draftPath)
	if err != nil {
		return printer.Error("Drift check failed", err.Error(), nil)
	}

	if res.Drifted {
		printer.Warning("Draft has drifted since last acceptance\n")
		printer.Info("  draft hash:    %.12s\n", res.DraftHash)
		if res.AcceptedHash == "" {
			printer.Info("  accepted hash: (never accepted)\n")
		} else {
			printer.Info("  accepted hash: %.12s\n", res.AcceptedHash)
		}
		printer.Info("\nRe-accept with: mesh accept %s\n", args[0])
		return nil
	}

	printer.Success("Draft matches the accepted plan (hash %.12s)\n", res.DraftHash)
	return nil
}
