package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/outreach-core/internal/domain"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, Default().Database, cfg.Database)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "04.04.01.01", cfg.Identity.EntityPrefixes[domain.EntityKindCompany])
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  host: db.internal
  port: 6543
pipeline:
  default_batch_size: 50
  max_batch_size: 200
  record_timeout: 5s
identity:
  entity_prefixes:
    people: "05.05.02.01"
server:
  allowed_origins:
    - https://console.example.com
storage:
  driver: memory
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("OUTREACH_DATABASE_HOST", "override.internal")
	t.Setenv("OUTREACH_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 50, cfg.Pipeline.DefaultBatchSize)
	assert.Equal(t, 200, cfg.Pipeline.MaxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.RecordTimeout)
	assert.Equal(t, "05.05.02.01", cfg.Identity.EntityPrefixes[domain.EntityKindPeople])
	assert.Equal(t, "04.04.01.01", cfg.Identity.EntityPrefixes[domain.EntityKindCompany])
	assert.Equal(t, []string{"https://console.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage:
  driver: sqlite
pipeline:
  default_batch_size: 500
  max_batch_size: 10
identity:
  id_format: "(["
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "max_batch_size")
	assert.Contains(t, err.Error(), "invalid id format")
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
