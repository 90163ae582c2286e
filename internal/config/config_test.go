package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvStaleInProgressSecs, EnvWALAutoCheckpoint, EnvRequireWorkerRole,
		EnvHeartbeatSecs, EnvLeaseRenewSecs,
	} {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	rt, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultStaleInProgressSecs, rt.StaleInProgressSecs)
	assert.Equal(t, DefaultWALAutoCheckpoint, rt.WALAutoCheckpoint)
	assert.Equal(t, DefaultHeartbeatSecs, rt.HeartbeatSecs)
	assert.Equal(t, DefaultLeaseRenewSecs, rt.LeaseRenewSecs)
	assert.False(t, rt.RequireWorkerRole)
	assert.Equal(t, DefaultOpTimeout, rt.OpTimeout)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStaleInProgressSecs, "600")
	t.Setenv(EnvWALAutoCheckpoint, "0")
	t.Setenv(EnvHeartbeatSecs, "10")
	t.Setenv(EnvLeaseRenewSecs, "15")
	t.Setenv(EnvRequireWorkerRole, "true")

	rt, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 600, rt.StaleInProgressSecs)
	assert.Equal(t, 0, rt.WALAutoCheckpoint, "zero disables checkpointing, not a clamp target")
	assert.Equal(t, 10, rt.HeartbeatSecs)
	assert.Equal(t, 15, rt.LeaseRenewSecs)
	assert.True(t, rt.RequireWorkerRole)
}

func TestFromEnvClamps(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStaleInProgressSecs, "-5")
	t.Setenv(EnvWALAutoCheckpoint, "-1")
	t.Setenv(EnvHeartbeatSecs, "1")
	t.Setenv(EnvLeaseRenewSecs, "0")

	rt, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultStaleInProgressSecs, rt.StaleInProgressSecs)
	assert.Equal(t, DefaultWALAutoCheckpoint, rt.WALAutoCheckpoint)
	assert.Equal(t, MinHeartbeatSecs, rt.HeartbeatSecs)
	assert.Equal(t, MinLeaseRenewSecs, rt.LeaseRenewSecs)
}

func TestFromEnvMalformed(t *testing.T) {
	t.Run("bad integer still yields usable defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvStaleInProgressSecs, "soon")

		rt, err := FromEnv()
		assert.Error(t, err)
		assert.Equal(t, DefaultStaleInProgressSecs, rt.StaleInProgressSecs)
	})

	t.Run("bad boolean reported", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRequireWorkerRole, "maybe")

		rt, err := FromEnv()
		assert.Error(t, err)
		assert.False(t, rt.RequireWorkerRole)
	})

	t.Run("boolean spellings", func(t *testing.T) {
		for _, raw := range []string{"1", "true", "on", "yes"} {
			clearEnv(t)
			t.Setenv(EnvRequireWorkerRole, raw)
			rt, err := FromEnv()
			require.NoError(t, err)
			assert.True(t, rt.RequireWorkerRole, "spelling %q", raw)
		}
	})
}

func TestRuntimeDerived(t *testing.T) {
	rt := Runtime{StaleInProgressSecs: 120, HeartbeatSecs: 10}
	assert.Equal(t, 2*time.Minute, rt.StaleThreshold())
	assert.Equal(t, 30*time.Second, rt.HeartbeatTTL(), "three missed beats")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1.0"
instance: prod
workers:
  backend:
    lanes: [BACKEND]
  qa:
    lanes: [QA, BACKEND]
    reviewer: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Instance)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "mesh.db", cfg.Paths.Database)
	assert.Equal(t, "mesh-ledger.jsonl", cfg.Paths.Ledger)
	assert.Equal(t, "tasks.json", cfg.Paths.Mirror)
	assert.Equal(t, 60, cfg.ReapIntervalSecs)
	assert.Equal(t, ":8600", cfg.Listen)

	lanes, ok := cfg.LanesFor("qa")
	assert.True(t, ok)
	assert.Equal(t, []string{"QA", "BACKEND"}, lanes)

	_, ok = cfg.LanesFor("unknown")
	assert.False(t, ok)

	assert.True(t, cfg.IsReviewer("qa"))
	assert.False(t, cfg.IsReviewer("backend"))
	assert.False(t, cfg.IsReviewer("unknown"))
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"wrong version", "version: \"2.0\"\ninstance: x\nworkers:\n  a:\n    lanes: [L]\n"},
		{"missing instance", "version: \"1.0\"\nworkers:\n  a:\n    lanes: [L]\n"},
		{"no worker types", "version: \"1.0\"\ninstance: x\nworkers: {}\n"},
		{"worker type without lanes", "version: \"1.0\"\ninstance: x\nworkers:\n  a:\n    lanes: []\n"},
		{"empty lane name", "version: \"1.0\"\ninstance: x\nworkers:\n  a:\n    lanes: [\"\"]\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
