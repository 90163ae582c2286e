// Package commands implements the mesh operator CLI. Most commands talk to
// a running coordinator over its HTTP API; init scaffolds local files and
// watch subscribes to the instance's Redis event channel directly.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/api"
)

var (
	version string
	commit  string
	date    string

	coordinatorURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Mesh - lease-based task coordination for worker fleets",
	Long: `Mesh coordinates a fleet of worker agents pulling tasks from a shared
queue, each task owned by at most one worker at a time via a renewable lease.

The mesh CLI is the operator surface: accept draft plans into the task set,
inspect tasks and live workers, check plan drift, and apply reviewer verdicts
to finished work.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	defaultURL := os.Getenv("MESH_COORDINATOR_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8600"
	}
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator", defaultURL,
		"coordinator API base URL (env MESH_COORDINATOR_URL)")
}

// apiClient returns a client for the configured coordinator.
func apiClient() *api.Client {
	return api.NewClient(coordinatorURL)
}
