package minion

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sysinspect/sysinspect/pkg/cfgutil"
	"github.com/sysinspect/sysinspect/pkg/logutil"
)

// Config is the minion daemon's on-disk configuration.
type Config struct {
	ID                string            `toml:"id"`
	MasterAddr        string            `toml:"master-addr"`
	StateDir          string            `toml:"state-dir"`
	ReconnectInterval string            `toml:"reconnect-interval"`
	Log               logutil.LogConfig `toml:"log"`
}

// defaultReconnectInterval is used when no reconnect-interval is configured.
var defaultReconnectInterval = cfgutil.ReconnectInterval{Min: 500 * time.Millisecond, Max: 60 * time.Second}

// ReconnectIntervalBounds parses ReconnectInterval, defaulting to "500ms-60s"
// when empty.
func (c Config) ReconnectIntervalBounds() (cfgutil.ReconnectInterval, error) {
	if c.ReconnectInterval == "" {
		return defaultReconnectInterval, nil
	}
	return cfgutil.ParseReconnectInterval(c.ReconnectInterval)
}

// LoadConfig decodes a minion TOML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode minion config %s: %w", path, err)
	}
	if cfg.ID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("resolve default minion id: %w", err)
		}
		cfg.ID = hostname
	}
	return cfg, nil
}
