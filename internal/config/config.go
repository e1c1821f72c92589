// Package config loads the server's TOML configuration file. Grounded
// on tonimelisma-onedrive-go's internal/config (BurntSushi/toml,
// LoadOrDefault zero-config fallback) and perkeep's typed TOML server
// config — both pack repos reach for BurntSushi/toml for exactly this:
// typed on-disk config for a long-running server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the server's top-level configuration.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`

	ObjectStoreTool           string `toml:"object_store_tool"`            // binary name, e.g. "rclone"
	ObjectStoreConfigRelPath  string `toml:"object_store_config_rel_path"` // relative to $HOME on each host
	ObjectStoreLocalConfig    string `toml:"object_store_local_config"`    // operator's local .conf, deployed to hosts

	PoolDialTimeout   Duration `toml:"pool_dial_timeout"`
	PausePollInterval Duration `toml:"pause_poll_interval"`

	DefaultPartSizeCeilMB int64 `toml:"default_part_size_ceil_mb"`
}

// Duration wraps time.Duration so it can be expressed in TOML as a
// plain string ("30s") rather than a raw integer nanosecond count.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration used when no config file
// is present, supporting a zero-config first run.
func Default() *Config {
	return &Config{
		ListenAddr:               ":8787",
		DataDir:                  "",
		ObjectStoreTool:          "rclone",
		ObjectStoreConfigRelPath: ".config/rclone/rclone.conf",
		ObjectStoreLocalConfig:   "",
		PoolDialTimeout:          Duration{10 * time.Second},
		PausePollInterval:        Duration{100 * time.Millisecond},
		DefaultPartSizeCeilMB:    1024,
	}
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault reads path if present, otherwise returns the default
// configuration — the zero-config first-run path.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
