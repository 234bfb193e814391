package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/memlayer/pkg/dotdir"
	"github.com/papercomputeco/memlayer/pkg/memcube"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

var (
	storageProviders   = []string{"inmemory", "sqlite", "postgres"}
	cacheProviders     = []string{"memory", "redis"}
	blobProviders      = []string{"inmemory", "minio"}
	embeddingProviders = []string{"", "none", "ollama"}
	eventsProviders    = []string{"nop", "kafka"}
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in the
// order of the TOML section layout.
func ValidConfigKeys() []string {
	ordered := []string{
		"storage.provider",
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"api.listen",
		"cache.provider",
		"cache.slice_ttl",
		"cache.cleanup_interval",
		"cache.redis_url",
		"scheduler.result_ttl",
		"scheduler.default_budget",
		"scheduler.access_workers",
		"scheduler.access_queue",
		"lifecycle.sweep_interval",
		"lifecycle.fresh_window",
		"lifecycle.stale_after",
		"lifecycle.retention_grace",
		"lifecycle.purge_expired",
		"blob.provider",
		"blob.endpoint",
		"blob.bucket",
		"blob.access_key",
		"blob.secret_key",
		"blob.use_ssl",
		"blob.fetch_timeout",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"events.provider",
		"events.brokers",
		"events.topic",
		"mcp.enabled",
	}

	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}

	var rest []string
	for k := range configKeys {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)

	return append(result, rest...)
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target
// .memlayer/ directory. Keys absent from the file keep their defaults, and
// a missing file yields NewDefaultConfig().
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}
	return LoadFile(c.targetPath)
}

// LoadFile reads and validates the config file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig persists the configuration to config.toml in the target .memlayer/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key or the resulting
// config does not validate.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// Value returns the string form of key on cfg.
func (cfg *Config) Value(key string) (string, bool) {
	info, ok := configKeys[key]
	if !ok {
		return "", false
	}
	return info.get(cfg), true
}

// ParseConfigTOML parses raw TOML bytes over NewDefaultConfig().
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}

// Validate checks provider names and the settings each provider requires.
func (cfg *Config) Validate() error {
	checks := []struct {
		key   string
		value string
		valid []string
	}{
		{"storage.provider", cfg.Storage.Provider, storageProviders},
		{"cache.provider", cfg.Cache.Provider, cacheProviders},
		{"blob.provider", cfg.Blob.Provider, blobProviders},
		{"embedding.provider", cfg.Embedding.Provider, embeddingProviders},
		{"events.provider", cfg.Events.Provider, eventsProviders},
	}
	for _, c := range checks {
		if !slices.Contains(c.valid, c.value) {
			return fmt.Errorf("invalid %s %q (available: %v)", c.key, c.value, c.valid)
		}
	}

	switch {
	case cfg.Storage.Provider == "postgres" && cfg.Storage.PostgresDSN == "":
		return errors.New("storage.postgres_dsn is required for the postgres provider")
	case cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "":
		return errors.New("cache.redis_url is required for the redis provider")
	case cfg.Blob.Provider == "minio" && cfg.Blob.Endpoint == "":
		return errors.New("blob.endpoint is required for the minio provider")
	case cfg.Events.Provider == "kafka" && len(cfg.Events.Brokers) == 0:
		return errors.New("events.brokers is required for the kafka provider")
	case cfg.Scheduler.DefaultBudget < 0:
		return errors.New("scheduler.default_budget must not be negative")
	}
	return nil
}

// Policy returns the lifecycle windows as a memcube.Policy. Zero windows
// fall back to memcube.DefaultPolicy.
func (l LifecycleConfig) Policy() memcube.Policy {
	p := memcube.DefaultPolicy()
	if l.FreshWindow > 0 {
		p.FreshWindow = l.FreshWindow.D()
	}
	if l.StaleAfter > 0 {
		p.StaleAfter = l.StaleAfter.D()
	}
	if l.RetentionGrace > 0 {
		p.RetentionGrace = l.RetentionGrace.D()
	}
	return p
}
