package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.False(t, cfg.Discovery)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
auth_token: secret
log_level: debug
store:
  backend: bolt
  bolt_path: /tmp/test.db
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendBolt, cfg.Store.Backend)
	assert.Equal(t, "/tmp/test.db", cfg.Store.BoltPath)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9000\"\n"), 0o600))

	t.Setenv("COLLABSTORE_ADDR", ":7000")
	t.Setenv("COLLABSTORE_STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/collab")
	t.Setenv("COLLABSTORE_DISCOVERY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/collab", cfg.Store.PostgresURL)
	assert.True(t, cfg.Discovery)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("COLLABSTORE_STORE_BACKEND", "cassandra")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
