package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/printer"
)

var workersJSON bool

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List live workers",
	Long: `List workers with a live heartbeat on this instance.

A worker disappears from this view after three missed heartbeats. The view is
observational: task ownership always comes from the task table, not from
heartbeats.`,
	RunE: runWorkers,
}

func init() {
	workersCmd.Flags().BoolVar(&workersJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(workersCmd)
}

func runWorkers(cmd *cobra.Command, args []string) error {
	res, err := apiClient().ListWorkers(context.Background())
	if err != nil {
		return printer.Error("Failed to list workers", err.Error(), nil)
	}

	if workersJSON {
		data, err := json.MarshalIndent(res.Workers, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(res.Workers) == 0 {
		printer.Info("No live workers.\n")
		return nil
	}

	for _, hb := range res.Workers {
		printer.WorkerLine(hb)
	}
	return nil
}
