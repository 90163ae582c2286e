package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/meshworks/mesh/internal/api"
	"github.com/meshworks/mesh/internal/worker"
	"github.com/meshworks/mesh/pkg/taskboard"
)

func main() {
	cfg, err := worker.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	presence, err := taskboard.NewPresence(&redis.Options{Addr: cfg.RedisAddr}, cfg.InstanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create presence client: %v\n", err)
		os.Exit(1)
	}
	defer presence.Close()

	ctx := context.Background()
	if err := presence.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	client := api.NewClient(cfg.CoordinatorURL)
	engine := worker.New(cfg, client, presence, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Start(runCtx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Worker error: %v\n", runErr)
			os.Exit(1)
		}
	}
}
