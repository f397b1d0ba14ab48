package master

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"sigs.k8s.io/yaml"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/datastore"
	"github.com/sysinspect/sysinspect/internal/telemetry"
	"github.com/sysinspect/sysinspect/pkg/cfgutil"
	"github.com/sysinspect/sysinspect/pkg/logutil"
)

// Config is the master daemon's on-disk configuration, decoded from a TOML
// file whose path cmd/sysinspect-master takes from its --config flag. No
// flag overrides individual settings.
type Config struct {
	Listen            string                `toml:"listen"`
	StateDir          string                `toml:"state-dir"`
	SessionTTL        string                `toml:"session-ttl"`
	HeartbeatInterval string                `toml:"heartbeat-interval"`
	Log               logutil.LogConfig     `toml:"log"`
	DataStore         DataStoreLimits       `toml:"data-store-limits"`
	OTLP              telemetry.Options     `toml:"otlp"`
	Models            map[string]ModelFiles `toml:"models"`
}

// DataStoreLimits carries the Data Store's size/retention limits as
// size/duration strings ("10mb", "24h"), parsed by cfgutil.ParseSize and
// cfgutil.ParseDuration respectively. Any field left empty means "no limit".
type DataStoreLimits struct {
	MaxItemSize    string `toml:"max-item-size"`
	MaxOverallSize string `toml:"max-overall-size"`
	ExpireAfter    string `toml:"expire-after"`
}

// Resolve parses the size/duration strings into a datastore.Options,
// leaving fields nil where the TOML value was empty.
func (l DataStoreLimits) Resolve(root string) (datastore.Options, error) {
	opt := datastore.Options{Root: root}
	if l.MaxItemSize != "" {
		n, err := cfgutil.ParseSize(l.MaxItemSize)
		if err != nil {
			return datastore.Options{}, fmt.Errorf("data-store-limits.max-item-size: %w", err)
		}
		opt.MaxItemSize = &n
	}
	if l.MaxOverallSize != "" {
		n, err := cfgutil.ParseSize(l.MaxOverallSize)
		if err != nil {
			return datastore.Options{}, fmt.Errorf("data-store-limits.max-overall-size: %w", err)
		}
		opt.MaxOverallSize = &n
	}
	if l.ExpireAfter != "" {
		d, err := cfgutil.ParseDuration(l.ExpireAfter)
		if err != nil {
			return datastore.Options{}, fmt.Errorf("data-store-limits.expire-after: %w", err)
		}
		secs := int64(d.Seconds())
		opt.ExpireAfter = &secs
	}
	return opt, nil
}

// SessionTTLDuration parses SessionTTL, defaulting to 30s when empty.
func (c Config) SessionTTLDuration() (time.Duration, error) {
	if c.SessionTTL == "" {
		return 30 * time.Second, nil
	}
	return cfgutil.ParseDuration(c.SessionTTL)
}

// HeartbeatIntervalDuration parses HeartbeatInterval, defaulting to a 5s
// broadcast cadence when empty.
func (c Config) HeartbeatIntervalDuration() (time.Duration, error) {
	if c.HeartbeatInterval == "" {
		return 5 * time.Second, nil
	}
	return cfgutil.ParseDuration(c.HeartbeatInterval)
}

// ModelFiles points to the YAML files defining one model's constraints,
// event-id pattern rules and telemetry selectors.
type ModelFiles struct {
	ConstraintsFile string `toml:"constraints-file"`
	RulesFile       string `toml:"rules-file"`
	SelectorsFile   string `toml:"selectors-file"`
}

// RuleFile is one entry of a model's rules.yaml: an EventIdPattern string
// bound to an ordered handler list and per-handler config blocks.
type RuleFile struct {
	Pattern  string                    `json:"pattern" yaml:"pattern"`
	Handlers []string                  `json:"handlers" yaml:"handlers"`
	Cfg      map[string]map[string]any `json:"cfg,omitempty" yaml:"cfg,omitempty"`
}

// LoadConfig decodes a master TOML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode master config %s: %w", path, err)
	}
	return cfg, nil
}

func loadConstraints(path string) ([]types.Constraint, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read constraints file %s: %w", path, err)
	}
	var constraints []types.Constraint
	if err := yaml.Unmarshal(raw, &constraints); err != nil {
		return nil, fmt.Errorf("parse constraints file %s: %w", path, err)
	}
	return constraints, nil
}

func loadRules(path string) ([]RuleFile, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	var rules []RuleFile
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rules, nil
}

// loadSelectors parses a model's telemetry selectors file.
// Selectors with both Map and Reduce configured are model-level
// (IsModelEvent); the rest are reachable only through a rule's "otlp"
// handler config block, not through this list.
func loadSelectors(path string) ([]types.EventSelector, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selectors file %s: %w", path, err)
	}
	var selectors []types.EventSelector
	if err := yaml.Unmarshal(raw, &selectors); err != nil {
		return nil, fmt.Errorf("parse selectors file %s: %w", path, err)
	}
	return selectors, nil
}
