package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	contents := `
listen_addr = ":9000"
data_dir = "/var/lib/parcel-relay"
object_store_tool = "rclone"
pool_dial_timeout = "5s"
default_part_size_ceil_mb = 2048
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/parcel-relay", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.PoolDialTimeout.Duration)
	assert.Equal(t, int64(2048), cfg.DefaultPartSizeCeilMB)
}
