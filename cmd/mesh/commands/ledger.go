package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/ledger"
	"github.com/meshworks/mesh/internal/printer"
	"github.com/meshworks/mesh/internal/timespec"
)

var (
	ledgerPath  string
	ledgerSince string
	ledgerUntil string
	ledgerTask  string
	ledgerJSON  bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the release ledger",
	Long: `Show the append-only release ledger: approvals, rejections, denied
completions, reclaimed leases, and admission denials.

The ledger file is read locally on the coordinator host. Filter with --since
and --until (a duration like '2h' or an RFC3339 timestamp) or --task.`,
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerPath, "ledger", "mesh-ledger.jsonl", "Path to the ledger file")
	ledgerCmd.Flags().StringVar(&ledgerSince, "since", "", "Only events after this time (e.g. '2h', RFC3339)")
	ledgerCmd.Flags().StringVar(&ledgerUntil, "until", "", "Only events before this time")
	ledgerCmd.Flags().StringVar(&ledgerTask, "task", "", "Only events for this task ID")
	ledgerCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Output raw JSON entries")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	sinceMs, untilMs, err := timespec.ParseRange(ledgerSince, ledgerUntil)
	if err != nil {
		return err
	}

	lg, err := ledger.Open(ledgerPath)
	if err != nil {
		return printer.Error("Cannot open ledger", err.Error(),
			[]string{"Run this on the coordinator host, or point --ledger at the ledger file"})
	}
	defer lg.Close()

	entries, err := lg.Read()
	if err != nil {
		return err
	}

	var kept []ledger.Entry
	for _, e := range entries {
		at := e.Timestamp.UnixMilli()
		if sinceMs > 0 && at < sinceMs {
			continue
		}
		if untilMs > 0 && at > untilMs {
			continue
		}
		if ledgerTask != "" && e.TaskID != ledgerTask {
			continue
		}
		kept = append(kept, e)
	}

	if ledgerJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(kept)
	}

	if len(kept) == 0 {
		printer.Info("No ledger events match.\n")
		return nil
	}
	fmt.Printf("Release ledger (%d events):\n", len(kept))
	for _, e := range kept {
		printer.LedgerLine(e.Timestamp.Local().Format(time.RFC3339), e.EventType, e.TaskID, e.Detail)
	}
	return nil
}
