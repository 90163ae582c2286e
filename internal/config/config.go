// Package config assembles the Mesh runtime configuration from MESH_*
// environment variables and the mesh.yml instance file.
//
// Runtime values are immutable once constructed. Components never cache a
// Runtime beyond a single top-level operation: callers re-read the knobs at
// decision points so a changed environment takes effect on the next call
// without a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names for the runtime knobs.
const (
	EnvStaleInProgressSecs = "MESH_STALE_IN_PROGRESS_SECS"
	EnvWALAutoCheckpoint   = "MESH_SQLITE_WAL_AUTOCHECKPOINT"
	EnvRequireWorkerRole   = "MESH_REQUIRE_WORKER_ROLE"
	EnvHeartbeatSecs       = "MESH_WORKER_HEARTBEAT_SECS"
	EnvLeaseRenewSecs      = "MESH_LEASE_RENEW_SECS"
)

// Defaults and floors for the runtime knobs.
const (
	DefaultStaleInProgressSecs = 1800
	DefaultWALAutoCheckpoint   = 1000
	DefaultHeartbeatSecs       = 30
	DefaultLeaseRenewSecs      = 30
	MinHeartbeatSecs           = 5
	MinLeaseRenewSecs          = 5

	// DefaultOpTimeout bounds a single store round trip. A slow store
	// degrades a decision to "no work" or "renewal failed" rather than
	// blocking the caller indefinitely.
	DefaultOpTimeout = 5 * time.Second
)

// Runtime holds the per-operation tunables read from MESH_* environment
// variables. Construct a fresh Runtime per top-level operation via FromEnv.
type Runtime struct {
	// StaleInProgressSecs is the reaper reclaim threshold: an in_progress
	// task silent for longer than this is returned to pending.
	StaleInProgressSecs int

	// WALAutoCheckpoint is the SQLite WAL checkpoint cadence in pages.
	// Zero disables automatic checkpointing.
	WALAutoCheckpoint int

	// RequireWorkerRole makes pick admission fail closed: when no role can
	// be resolved for a worker the pick is denied rather than guessed.
	RequireWorkerRole bool

	// HeartbeatSecs is the worker heartbeat cadence (min 5).
	HeartbeatSecs int

	// LeaseRenewSecs is the worker lease renewal cadence (min 5).
	LeaseRenewSecs int

	// OpTimeout bounds a single store operation.
	OpTimeout time.Duration
}

// StaleThreshold returns the reclaim threshold as a duration.
func (r Runtime) StaleThreshold() time.Duration {
	return time.Duration(r.StaleInProgressSecs) * time.Second
}

// HeartbeatTTL returns the Redis TTL for a heartbeat record: three missed
// beats before the worker disappears from the live view.
func (r Runtime) HeartbeatTTL() time.Duration {
	return 3 * time.Duration(r.HeartbeatSecs) * time.Second
}

// FromEnv reads the MESH_* knobs, applying defaults and minimum clamps.
// A malformed knob is an operator mistake worth surfacing, so the first
// parse error is returned alongside a usable Runtime built from defaults.
func FromEnv() (Runtime, error) {
	rt := Runtime{
		StaleInProgressSecs: DefaultStaleInProgressSecs,
		WALAutoCheckpoint:   DefaultWALAutoCheckpoint,
		HeartbeatSecs:       DefaultHeartbeatSecs,
		LeaseRenewSecs:      DefaultLeaseRenewSecs,
		OpTimeout:           DefaultOpTimeout,
	}

	var firstErr error
	readInt := func(name string, dst *int) {
		raw := os.Getenv(name)
		if raw == "" {
			return
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s=%q is not an integer", name, raw)
			}
			return
		}
		*dst = v
	}

	readInt(EnvStaleInProgressSecs, &rt.StaleInProgressSecs)
	readInt(EnvWALAutoCheckpoint, &rt.WALAutoCheckpoint)
	readInt(EnvHeartbeatSecs, &rt.HeartbeatSecs)
	readInt(EnvLeaseRenewSecs, &rt.LeaseRenewSecs)

	if raw := os.Getenv(EnvRequireWorkerRole); raw != "" {
		switch raw {
		case "1", "true", "on", "yes":
			rt.RequireWorkerRole = true
		case "0", "false", "off", "no":
			rt.RequireWorkerRole = false
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("%s=%q is not a boolean", EnvRequireWorkerRole, raw)
			}
		}
	}

	if rt.StaleInProgressSecs <= 0 {
		rt.StaleInProgressSecs = DefaultStaleInProgressSecs
	}
	if rt.WALAutoCheckpoint < 0 {
		rt.WALAutoCheckpoint = DefaultWALAutoCheckpoint
	}
	if rt.HeartbeatSecs < MinHeartbeatSecs {
		rt.HeartbeatSecs = MinHeartbeatSecs
	}
	if rt.LeaseRenewSecs < MinLeaseRenewSecs {
		rt.LeaseRenewSecs = MinLeaseRenewSecs
	}

	return rt, firstErr
}

// MeshConfig represents the top-level mesh.yml configuration: the instance
// identity, service endpoints, and the worker-type registry used for lane
// admission and role inference.
type MeshConfig struct {
	Version  string                `yaml:"version"`
	Instance string                `yaml:"instance"`
	Redis    RedisConfig           `yaml:"redis,omitempty"`
	Paths    PathsConfig           `yaml:"paths,omitempty"`
	Workers  map[string]WorkerType `yaml:"workers"`

	// ReapIntervalSecs is the stale-reaper sweep cadence (default 60).
	ReapIntervalSecs int `yaml:"reap_interval_secs,omitempty"`

	// ExportIntervalSecs is the JSON mirror cadence (default 60).
	ExportIntervalSecs int `yaml:"export_interval_secs,omitempty"`

	// Listen is the coordinator API bind address (default ":8600").
	Listen string `yaml:"listen,omitempty"`
}

// WorkerType declares a class of worker and the lanes it may pull from.
type WorkerType struct {
	Lanes    []string `yaml:"lanes"`
	Reviewer bool     `yaml:"reviewer,omitempty"` // May approve/reject finished work
}

// RedisConfig specifies the Redis endpoint for heartbeats and events.
type RedisConfig struct {
	Addr string `yaml:"addr,omitempty"` // Default "localhost:6379"
}

// PathsConfig specifies the on-disk artifacts of an instance.
type PathsConfig struct {
	Database string `yaml:"database,omitempty"` // Default "mesh.db"
	Ledger   string `yaml:"ledger,omitempty"`   // Default "mesh-ledger.jsonl"
	Mirror   string `yaml:"mirror,omitempty"`   // Default "tasks.json"
}

// Load reads and validates a mesh.yml file, applying defaults.
func Load(path string) (*MeshConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg MeshConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *MeshConfig) applyDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Paths.Database == "" {
		c.Paths.Database = "mesh.db"
	}
	if c.Paths.Ledger == "" {
		c.Paths.Ledger = "mesh-ledger.jsonl"
	}
	if c.Paths.Mirror == "" {
		c.Paths.Mirror = "tasks.json"
	}
	if c.ReapIntervalSecs <= 0 {
		c.ReapIntervalSecs = 60
	}
	if c.ExportIntervalSecs <= 0 {
		c.ExportIntervalSecs = 60
	}
	if c.Listen == "" {
		c.Listen = ":8600"
	}
}

// Validate performs strict validation on the configuration.
func (c *MeshConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if c.Instance == "" {
		return fmt.Errorf("instance name is required")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("no worker types defined")
	}
	for name, wt := range c.Workers {
		if len(wt.Lanes) == 0 {
			return fmt.Errorf("worker type %q: at least one lane is required", name)
		}
		for _, lane := range wt.Lanes {
			if lane == "" {
				return fmt.Errorf("worker type %q: empty lane name", name)
			}
		}
	}
	return nil
}

// LanesFor returns the allowed lanes for a worker type, or false when the
// type is unknown.
func (c *MeshConfig) LanesFor(workerType string) ([]string, bool) {
	wt, ok := c.Workers[workerType]
	if !ok {
		return nil, false
	}
	return wt.Lanes, true
}

// IsReviewer reports whether the worker type may approve or reject work.
func (c *MeshConfig) IsReviewer(workerType string) bool {
	wt, ok := c.Workers[workerType]
	return ok && wt.Reviewer
}
