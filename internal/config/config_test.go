package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./multi_exchange_data_lake.duckdb", cfg.Store.Path)
	assert.Equal(t, "./shutdown_load_january.flag", cfg.Shutdown.RendezvousPath)
	assert.Equal(t, 12345, cfg.Monitor.Port)
	assert.Equal(t, 120, cfg.Ledger.StaleThresholdMinutes)
	assert.Equal(t, 2*time.Hour, cfg.Ledger.StaleThreshold())
	assert.Equal(t, 60*time.Second, cfg.ObjectStore.RequestTimeout())
	assert.Equal(t, 6543, cfg.Remote.Port)
	assert.Equal(t, "postgres", cfg.Remote.Database)
}

func TestLoadReadsYAMLAndKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /data/custom.duckdb
monitor:
  port: 9000
ledger:
  stale_threshold_minutes: 30
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/custom.duckdb", cfg.Store.Path)
	assert.Equal(t, 9000, cfg.Monitor.Port)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.StaleThreshold())
	// untouched fields still get their defaults
	assert.Equal(t, "./shutdown_load_january.flag", cfg.Shutdown.RendezvousPath)
}

func TestRemoteCredentialsComeOnlyFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  host: should-be-ignored
`), 0o644))

	t.Setenv("REMOTE_HOST", "db.internal")
	t.Setenv("REMOTE_USER", "ingest")
	t.Setenv("REMOTE_PASSWORD", "secret")
	t.Setenv("REMOTE_PORT", "5432")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Remote.Host)
	assert.Equal(t, "ingest", cfg.Remote.User)
	assert.Equal(t, "secret", cfg.Remote.Password)
	assert.Equal(t, 5432, cfg.Remote.Port)
	assert.True(t, cfg.Remote.RemoteConfigured())
}

func TestRemoteConfiguredRequiresHostAndUser(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Remote.RemoteConfigured())
}
