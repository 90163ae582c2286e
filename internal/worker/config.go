// Package worker implements the Mesh reference worker agent: a process that
// polls the coordinator for work, executes it, renews its lease while
// working, and reports the outcome. Heartbeats go straight to Redis; all
// task state changes go through the coordinator API.
package worker

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Config holds the worker's runtime configuration loaded from environment
// variables. Validated at startup so misconfiguration fails fast.
type Config struct {
	// InstanceName is the Mesh instance identifier (from MESH_INSTANCE_NAME)
	InstanceName string

	// WorkerID uniquely identifies this worker process
	// (from MESH_WORKER_ID; generated when unset)
	WorkerID string

	// WorkerType is the declared worker class used for lane admission
	// (from MESH_WORKER_TYPE)
	WorkerType string

	// CoordinatorURL is the coordinator API base URL
	// (from MESH_COORDINATOR_URL, default http://localhost:8600)
	CoordinatorURL string

	// RedisAddr is the Redis endpoint for heartbeats
	// (from MESH_REDIS_ADDR, default localhost:6379)
	RedisAddr string

	// Command is the command array executed per task (from
	// MESH_WORKER_COMMAND, a JSON array like ["/app/run.sh"]). The task is
	// passed as JSON on stdin; stdout becomes the task output. Empty means
	// the built-in echo runner.
	Command []string
}

// LoadConfig reads and validates worker configuration from environment
// variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		InstanceName:   os.Getenv("MESH_INSTANCE_NAME"),
		WorkerID:       os.Getenv("MESH_WORKER_ID"),
		WorkerType:     os.Getenv("MESH_WORKER_TYPE"),
		CoordinatorURL: os.Getenv("MESH_COORDINATOR_URL"),
		RedisAddr:      os.Getenv("MESH_REDIS_ADDR"),
	}

	if commandJSON := os.Getenv("MESH_WORKER_COMMAND"); commandJSON != "" {
		if err := json.Unmarshal([]byte(commandJSON), &cfg.Command); err != nil {
			return nil, fmt.Errorf("failed to parse MESH_WORKER_COMMAND as JSON array: %w", err)
		}
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.New().String()[:8]
	}
	if cfg.CoordinatorURL == "" {
		cfg.CoordinatorURL = "http://localhost:8600"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("MESH_INSTANCE_NAME environment variable is required")
	}
	if c.WorkerType == "" {
		return fmt.Errorf("MESH_WORKER_TYPE environment variable is required")
	}
	return nil
}
