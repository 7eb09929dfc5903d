package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
node:
  rpc_url: wss://node.example.org
  chunk_size: 2000
  request_timeout: 10s
watcher:
  confirmation_depth: 6
  poll_interval: 3s
  prefer_push: true
logging:
  default_level: debug
  component_levels:
    reorg-tracker: warn
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://node.example.org", cfg.Node.RPCURL)
	assert.Equal(t, uint64(2000), cfg.Node.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Node.RequestTimeout.Duration)
	assert.Equal(t, uint64(6), cfg.Watcher.ConfirmationDepth)
	assert.Equal(t, 3*time.Second, cfg.Watcher.PollInterval.Duration)
	assert.True(t, cfg.Watcher.PreferPush)
	assert.Equal(t, "warn", cfg.Logging.GetComponentLevel("reorg-tracker"))
	assert.Equal(t, "debug", cfg.Logging.GetComponentLevel("record-source"))
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
  "node": {"rpc_url": "https://node.example.org"},
  "watcher": {"max_cache_size": 50}
}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://node.example.org", cfg.Node.RPCURL)
	assert.Equal(t, 50, cfg.Watcher.MaxCacheSize)
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `
[node]
rpc_url = "https://node.example.org"

[watcher]
confirmation_depth = 20
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://node.example.org", cfg.Node.RPCURL)
	assert.Equal(t, uint64(20), cfg.Watcher.ConfirmationDepth)
}

func TestLoadFromFile_DefaultsApplied(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
node:
  rpc_url: https://node.example.org
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(5000), cfg.Node.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Node.RequestTimeout.Duration)
	assert.Equal(t, uint64(12), cfg.Watcher.ConfirmationDepth)
	assert.Equal(t, 1000, cfg.Watcher.MaxCacheSize)
	assert.Equal(t, 12*time.Second, cfg.Watcher.PollInterval.Duration)
	assert.Equal(t, 8192, cfg.Watcher.DedupCacheSize)
	assert.False(t, cfg.Watcher.PreferPush)
}

func TestLoadFromFile_MissingRPCURL(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
watcher:
  confirmation_depth: 12
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "node.rpc_url")
}

func TestLoadFromFile_UnknownComponentRejected(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
node:
  rpc_url: https://node.example.org
logging:
  component_levels:
    no-such-component: debug
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown component")
}

func TestLoadFromFile_InvalidLogLevelRejected(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
node:
  rpc_url: https://node.example.org
logging:
  default_level: verbose
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "default_level")
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := writeConfigFile(t, "config.ini", "rpc_url=x")

	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported config file format")
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	r := &RetryConfig{}
	r.ApplyDefaults()

	assert.Equal(t, 5, r.MaxAttempts)
	assert.Equal(t, time.Second, r.InitialBackoff.Duration)
	assert.Equal(t, 30*time.Second, r.MaxBackoff.Duration)
	assert.Equal(t, 2.0, r.BackoffMultiplier)
}

func TestMetricsConfig_ApplyDefaults(t *testing.T) {
	m := &MetricsConfig{Enabled: true}
	m.ApplyDefaults()

	assert.Equal(t, ":9090", m.ListenAddress)
	assert.Equal(t, "/metrics", m.Path)
	require.NoError(t, m.Validate())
}
