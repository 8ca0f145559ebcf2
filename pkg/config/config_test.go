package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Local.MaxEntries)
	assert.Equal(t, int64(64*1024*1024), cfg.Local.MaxBytes)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, 15*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, 5*time.Second, cfg.DedupWindow)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
local:
  max_entries: 500
  max_bytes: 1048576
redis:
  address: redis.internal:6380
  key_prefix: resilient
retry:
  max_retries: 5
breakers:
  vector-search:
    failure_threshold: 10
    open_timeout: 30s
dependencies:
  llm-completion:
    dependency: llm-completion
    default_ttl: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Local.MaxEntries)
	assert.Equal(t, int64(1048576), cfg.Local.MaxBytes)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
	assert.Equal(t, "resilient", cfg.Redis.KeyPrefix)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)

	require.Contains(t, cfg.Breakers, "vector-search")
	assert.Equal(t, 10, cfg.Breakers["vector-search"].FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breakers["vector-search"].OpenTimeout)

	require.Contains(t, cfg.Dependencies, "llm-completion")
	assert.Equal(t, time.Hour, cfg.Dependencies["llm-completion"].DefaultTTL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
redis:
  address: from-file:6379
`)

	t.Setenv("RESILIENT_REDIS_ADDRESS", "from-env:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:6379", cfg.Redis.Address)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := writeConfigFile(t, "local: [not: a map\n")
	_, err := Load(path)
	assert.Error(t, err)
}
