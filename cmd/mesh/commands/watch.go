package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/meshworks/mesh/internal/printer"
	"github.com/meshworks/mesh/pkg/taskboard"
)

var (
	watchInstance string
	watchRedis    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream task lifecycle events",
	Long: `Subscribe to the instance's task event channel and print lifecycle events
(claims, completions, reviewer verdicts, reclaims) as they happen.

Events are observational and may be missed across reconnects; 'mesh list'
always reflects the authoritative task table.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchInstance, "instance", "default", "Mesh instance name")
	watchCmd.Flags().StringVar(&watchRedis, "redis", "localhost:6379", "Redis address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	presence, err := taskboard.NewPresence(&redis.Options{Addr: watchRedis}, watchInstance)
	if err != nil {
		return err
	}
	defer presence.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	sub, err := presence.SubscribeTaskEvents(ctx)
	if err != nil {
		return printer.Error("Failed to subscribe", err.Error(),
			[]string{"Check that Redis is reachable at " + watchRedis})
	}
	defer sub.Close()

	printer.Info("Watching task events for instance '%s' (Ctrl-C to stop)\n", watchInstance)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			ts := time.UnixMilli(ev.AtMs).Format("15:04:05")
			switch ev.Kind {
			case "approved", "completed":
				printer.Success("%s %-10s %s %s\n", ts, ev.Kind, ev.TaskID, ev.WorkerID)
			case "failed", "rejected", "deny", "reaped":
				printer.Warning("%s %-10s %s %s %s\n", ts, ev.Kind, ev.TaskID, ev.WorkerID, ev.Detail)
			default:
				printer.Info("%s %-10s %s %s\n", ts, ev.Kind, ev.TaskID, ev.WorkerID)
			}
		case err := <-sub.Errors():
			if err != nil {
				printer.Warning("event error: %v\n", err)
			}
		}
	}
}
