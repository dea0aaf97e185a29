package config

// Default values for configuration options. These are "layer 0" of the
// override chain and are chosen so the daemon runs usefully with no config
// file at all, apart from the remote credentials.
const (
	defaultRetentionHours    = 168 // one week of completed operations
	defaultRemoteTimeout     = 30
	defaultConcurrency       = 3
	defaultMaxRetries        = 3
	defaultBaseDelaySeconds  = 1
	defaultMaxDelaySeconds   = 30
	defaultSweepSeconds      = 10
	defaultHealthInterval    = 30
	defaultDegradedThreshold = 0.7
	defaultSyncInterval      = 5
	defaultLookbackHours     = 24
	defaultAPIAddr           = "127.0.0.1:8787"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults, and
// the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           DefaultDatabasePath(),
			RetentionHours: defaultRetentionHours,
		},
		Remote: RemoteConfig{
			TimeoutSeconds: defaultRemoteTimeout,
		},
		Queue: QueueConfig{
			Concurrency:      defaultConcurrency,
			MaxRetries:       defaultMaxRetries,
			BaseDelaySeconds: defaultBaseDelaySeconds,
			MaxDelaySeconds:  defaultMaxDelaySeconds,
			SweepSeconds:     defaultSweepSeconds,
		},
		Health: HealthConfig{
			IntervalSeconds:   defaultHealthInterval,
			DegradedThreshold: defaultDegradedThreshold,
		},
		Sync: SyncConfig{
			IntervalMinutes: defaultSyncInterval,
			LookbackHours:   defaultLookbackHours,
		},
		API: APIConfig{
			Addr: defaultAPIAddr,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
