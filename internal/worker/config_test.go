package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setWorkerEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	base := map[string]string{
		"MESH_INSTANCE_NAME":   "test",
		"MESH_WORKER_ID":       "",
		"MESH_WORKER_TYPE":     "backend",
		"MESH_COORDINATOR_URL": "",
		"MESH_REDIS_ADDR":      "",
		"MESH_WORKER_COMMAND":  "",
	}
	for k, v := range overrides {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}
}

func TestLoadConfig(t *testing.T) {
	setWorkerEnv(t, map[string]string{
		"MESH_WORKER_ID":       "w1",
		"MESH_COORDINATOR_URL": "http://mesh:9000",
		"MESH_REDIS_ADDR":      "redis:6379",
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.InstanceName)
	assert.Equal(t, "w1", cfg.WorkerID)
	assert.Equal(t, "backend", cfg.WorkerType)
	assert.Equal(t, "http://mesh:9000", cfg.CoordinatorURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Empty(t, cfg.Command)
}

func TestLoadConfigDefaults(t *testing.T) {
	setWorkerEnv(t, nil)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8600", cfg.CoordinatorURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.True(t, strings.HasPrefix(cfg.WorkerID, "worker-"), "generated id: %s", cfg.WorkerID)
	assert.Len(t, cfg.WorkerID, len("worker-")+8)
}

func TestLoadConfigCommand(t *testing.T) {
	setWorkerEnv(t, map[string]string{
		"MESH_WORKER_COMMAND": `["/app/run.sh", "--fast"]`,
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"/app/run.sh", "--fast"}, cfg.Command)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing instance name", func(t *testing.T) {
		setWorkerEnv(t, map[string]string{"MESH_INSTANCE_NAME": ""})
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("missing worker type", func(t *testing.T) {
		setWorkerEnv(t, map[string]string{"MESH_WORKER_TYPE": ""})
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("command not a json array", func(t *testing.T) {
		setWorkerEnv(t, map[string]string{"MESH_WORKER_COMMAND": "/app/run.sh"})
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
