package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/printer"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Long: `List every task on the board with its lane, status, and owner.

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	res, err := apiClient().ListTasks(context.Background())
	if err != nil {
		return printer.Error("Failed to list tasks", err.Error(), nil)
	}

	if listJSON {
		data, err := json.MarshalIndent(res.Tasks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(res.Tasks) == 0 {
		printer.Info("No tasks. Accept a plan with: mesh accept <draft.yml>\n")
		return nil
	}

	printer.Info("  %-16s %-10s %-12s %-20s %s\n", "ID", "LANE", "STATUS", "WORKER", "DESCRIPTION")
	for _, t := range res.Tasks {
		printer.TaskLine(t)
	}
	return nil
}
