package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.HTTP.Address)
	assert.Equal(t, "all_tasks", cfg.Cache.Key)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
	assert.Equal(t, QueueBackendAMQP, cfg.Queue.Backend)
	assert.Equal(t, "task_queue", cfg.Queue.Name)
	assert.Equal(t, RetryConfig{Attempts: 5, Delay: 5 * time.Second}, cfg.WorkerRetry())
	assert.Equal(t, RetryConfig{Attempts: 5, Delay: 2 * time.Second}, cfg.StartupRetry())
	assert.NotEmpty(t, cfg.Worker.Name)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("WORKER_NAME", "worker-1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, QueueBackendRedis, cfg.Queue.Backend)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "worker-1", cfg.Worker.Name)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "log_level: debug\nqueue:\n  name: jobs\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "jobs", cfg.Queue.Name)
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "kafka")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_LogLevelLeftToLogger(t *testing.T) {
	for _, level := range []string{"Info", "WARN", "verbose"} {
		t.Run(level, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", level)

			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, level, cfg.LogLevel)
		})
	}
}
