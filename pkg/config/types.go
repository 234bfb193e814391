package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent memlayer configuration stored as
// config.toml in the .memlayer/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	API       APIConfig       `toml:"api"`
	Cache     CacheConfig     `toml:"cache"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Blob      BlobConfig      `toml:"blob"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Events    EventsConfig    `toml:"events"`
	MCP       MCPConfig       `toml:"mcp"`
}

// StorageConfig selects the driver shared by documents and memory records.
type StorageConfig struct {
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// CacheConfig holds slice cache settings.
type CacheConfig struct {
	Provider        string   `toml:"provider,omitempty"`
	SliceTTL        Duration `toml:"slice_ttl,omitempty"`
	CleanupInterval Duration `toml:"cleanup_interval,omitempty"`
	RedisURL        string   `toml:"redis_url,omitempty"`
}

// SchedulerConfig holds relevance scheduler settings.
type SchedulerConfig struct {
	ResultTTL     Duration `toml:"result_ttl,omitempty"`
	DefaultBudget int      `toml:"default_budget,omitempty"`
	AccessWorkers int      `toml:"access_workers,omitempty"`
	AccessQueue   int      `toml:"access_queue,omitempty"`
}

// LifecycleConfig holds the sweep cadence and lifecycle windows.
type LifecycleConfig struct {
	SweepInterval  Duration `toml:"sweep_interval,omitempty"`
	FreshWindow    Duration `toml:"fresh_window,omitempty"`
	StaleAfter     Duration `toml:"stale_after,omitempty"`
	RetentionGrace Duration `toml:"retention_grace,omitempty"`
	PurgeExpired   bool     `toml:"purge_expired"`
}

// BlobConfig holds the cold payload tier settings.
type BlobConfig struct {
	Provider     string   `toml:"provider,omitempty"`
	Endpoint     string   `toml:"endpoint,omitempty"`
	Bucket       string   `toml:"bucket,omitempty"`
	AccessKey    string   `toml:"access_key,omitempty"`
	SecretKey    string   `toml:"secret_key,omitempty"`
	UseSSL       bool     `toml:"use_ssl"`
	FetchTimeout Duration `toml:"fetch_timeout,omitempty"`
}

// EmbeddingConfig holds embedding provider settings. An empty provider
// disables embeddings.
type EmbeddingConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// EventsConfig holds change event publishing settings.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// MCPConfig toggles the MCP endpoint on the API server.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration is a time.Duration that reads and writes as a string such as
// "10m" or "30d".
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string {
	if d == 0 {
		return ""
	}
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration is time.ParseDuration plus a whole-day "d" suffix.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for %s: %q", name, v)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			d, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = Duration(d)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider":     stringKey(func(c *Config) *string { return &c.Storage.Provider }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"cache.provider":         stringKey(func(c *Config) *string { return &c.Cache.Provider }),
	"cache.slice_ttl":        durationKey("cache.slice_ttl", func(c *Config) *Duration { return &c.Cache.SliceTTL }),
	"cache.cleanup_interval": durationKey("cache.cleanup_interval", func(c *Config) *Duration { return &c.Cache.CleanupInterval }),
	"cache.redis_url":        stringKey(func(c *Config) *string { return &c.Cache.RedisURL }),

	"scheduler.result_ttl":     durationKey("scheduler.result_ttl", func(c *Config) *Duration { return &c.Scheduler.ResultTTL }),
	"scheduler.default_budget": intKey("scheduler.default_budget", func(c *Config) *int { return &c.Scheduler.DefaultBudget }),
	"scheduler.access_workers": intKey("scheduler.access_workers", func(c *Config) *int { return &c.Scheduler.AccessWorkers }),
	"scheduler.access_queue":   intKey("scheduler.access_queue", func(c *Config) *int { return &c.Scheduler.AccessQueue }),

	"lifecycle.sweep_interval":  durationKey("lifecycle.sweep_interval", func(c *Config) *Duration { return &c.Lifecycle.SweepInterval }),
	"lifecycle.fresh_window":    durationKey("lifecycle.fresh_window", func(c *Config) *Duration { return &c.Lifecycle.FreshWindow }),
	"lifecycle.stale_after":     durationKey("lifecycle.stale_after", func(c *Config) *Duration { return &c.Lifecycle.StaleAfter }),
	"lifecycle.retention_grace": durationKey("lifecycle.retention_grace", func(c *Config) *Duration { return &c.Lifecycle.RetentionGrace }),
	"lifecycle.purge_expired":   boolKey("lifecycle.purge_expired", func(c *Config) *bool { return &c.Lifecycle.PurgeExpired }),

	"blob.provider":      stringKey(func(c *Config) *string { return &c.Blob.Provider }),
	"blob.endpoint":      stringKey(func(c *Config) *string { return &c.Blob.Endpoint }),
	"blob.bucket":        stringKey(func(c *Config) *string { return &c.Blob.Bucket }),
	"blob.access_key":    stringKey(func(c *Config) *string { return &c.Blob.AccessKey }),
	"blob.secret_key":    stringKey(func(c *Config) *string { return &c.Blob.SecretKey }),
	"blob.use_ssl":       boolKey("blob.use_ssl", func(c *Config) *bool { return &c.Blob.UseSSL }),
	"blob.fetch_timeout": durationKey("blob.fetch_timeout", func(c *Config) *Duration { return &c.Blob.FetchTimeout }),

	"embedding.provider": stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":    stringKey(func(c *Config) *string { return &c.Embedding.Model }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Brokers = nil
			for b := range strings.SplitSeq(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Events.Brokers = append(c.Events.Brokers, b)
				}
			}
			return nil
		},
	},
	"events.topic": stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"mcp.enabled": boolKey("mcp.enabled", func(c *Config) *bool { return &c.MCP.Enabled }),
}
