package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SWARM_DB_PATH", "")
	t.Setenv("FOURSQUARE_TOKEN", "")
	t.Setenv("SWARM_LOG_LEVEL", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, time.Hour, cfg.Schedule.ParseSyncInterval())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/swarm.db
foursquare:
  token: from-file
  page_size: 100
import:
  null_columns: omit
schedule:
  sync_interval: 15m
`), 0o600))

	t.Setenv("SWARM_DB_PATH", "")
	t.Setenv("FOURSQUARE_TOKEN", "from-env")
	t.Setenv("SWARM_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/swarm.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Foursquare.Token)
	assert.Equal(t, 100, cfg.Foursquare.PageSize)
	assert.Equal(t, "20190101", cfg.Foursquare.APIVersion)
	assert.Equal(t, "omit", cfg.Import.NullColumns)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.ParseSyncInterval())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unterminated"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestParseSyncIntervalFallback(t *testing.T) {
	assert.Equal(t, time.Hour, ScheduleConfig{SyncInterval: "soon"}.ParseSyncInterval())
	assert.Equal(t, time.Hour, ScheduleConfig{SyncInterval: "-5m"}.ParseSyncInterval())
}
