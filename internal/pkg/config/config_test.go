package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.ListenAddress)
	assert.Equal(t, "data/fleetview.json", cfg.StateFile)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, int64(4), cfg.Aggregation.PerClusterLimit)
	assert.Equal(t, Duration(10*time.Second), cfg.Aggregation.EntryTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
listenAddress: ":9090"
stateFile: /var/lib/fleetview/state.json
aws:
  region: eu-west-1
  profile: ops
aggregation:
  perClusterLimit: 8
  entryTimeout: 5s
  cacheTTL: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddress)
	assert.Equal(t, "/var/lib/fleetview/state.json", cfg.StateFile)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "ops", cfg.AWS.Profile)
	assert.Equal(t, int64(8), cfg.Aggregation.PerClusterLimit)
	assert.Equal(t, Duration(5*time.Second), cfg.Aggregation.EntryTimeout)
	assert.Equal(t, Duration(time.Minute), cfg.Aggregation.CacheTTL)

	// Sections the file omits keep their defaults
	assert.Equal(t, 10, cfg.Aggregation.MaxEvents)
	assert.Equal(t, "fleetview", cfg.Mongo.Database)
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aggregation:\n  entryTimeout: soon\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
