package config

import "time"

const (
	defaultStorageProvider = "inmemory"
	defaultAPIListen       = ":8090"

	defaultCacheProvider   = "memory"
	defaultSliceTTL        = 10 * time.Minute
	defaultCleanupInterval = 5 * time.Minute

	defaultResultTTL     = 2 * time.Minute
	defaultBudget        = 4000
	defaultAccessWorkers = 2
	defaultAccessQueue   = 256

	defaultSweepInterval  = time.Hour
	defaultFreshWindow    = 24 * time.Hour
	defaultStaleAfter     = 30 * 24 * time.Hour
	defaultRetentionGrace = 30 * 24 * time.Hour

	defaultBlobProvider = "inmemory"
	defaultBlobBucket   = "memlayer"
	defaultFetchTimeout = 10 * time.Second

	defaultEventsProvider = "nop"
	defaultEventsBroker   = "localhost:9092"
	defaultEventsTopic    = "memlayer.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Cache: CacheConfig{
			Provider:        defaultCacheProvider,
			SliceTTL:        Duration(defaultSliceTTL),
			CleanupInterval: Duration(defaultCleanupInterval),
		},
		Scheduler: SchedulerConfig{
			ResultTTL:     Duration(defaultResultTTL),
			DefaultBudget: defaultBudget,
			AccessWorkers: defaultAccessWorkers,
			AccessQueue:   defaultAccessQueue,
		},
		Lifecycle: LifecycleConfig{
			SweepInterval:  Duration(defaultSweepInterval),
			FreshWindow:    Duration(defaultFreshWindow),
			StaleAfter:     Duration(defaultStaleAfter),
			RetentionGrace: Duration(defaultRetentionGrace),
		},
		Blob: BlobConfig{
			Provider:     defaultBlobProvider,
			Bucket:       defaultBlobBucket,
			FetchTimeout: Duration(defaultFetchTimeout),
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Brokers:  []string{defaultEventsBroker},
			Topic:    defaultEventsTopic,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}
