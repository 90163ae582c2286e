package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshworks/mesh/internal/config"
	"github.com/meshworks/mesh/internal/coordinator"
)

func main() {
	configPath := flag.String("config", "mesh.yml", "path to the mesh.yml instance configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	engine, err := coordinator.NewEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to start coordinator: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("Coordinator starting for instance '%s' with %d worker types\n",
		cfg.Instance, len(cfg.Workers))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Coordinator error: %v\n", runErr)
			os.Exit(1)
		}
	}
}
