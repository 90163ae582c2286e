package commands

import (
	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/printer"
	"github.com/meshworks/mesh/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Mesh instance",
	Long: `Initialize a new Mesh instance with default configuration and an example plan.

Creates:
  • mesh.yml - Instance configuration (worker types, lanes, service endpoints)
  • plan.yml - Example draft plan demonstrating tasks, lanes, and dependencies

Use --force to overwrite existing files.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing mesh.yml and plan.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(forceInit); err != nil {
		return err
	}
	printer.Success("Created mesh.yml and plan.yml\n")

	printer.Info("\nNext steps:\n")
	printer.Info("  1. Adjust worker types and lanes in mesh.yml\n")
	printer.Info("  2. Start the coordinator: meshd --config mesh.yml\n")
	printer.Info("  3. Accept the plan: mesh accept plan.yml\n")
	return nil
}
