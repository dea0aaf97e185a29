// Package config implements TOML configuration loading and validation for
// mailsync. It supports a four-layer override chain (defaults -> config
// file -> environment -> CLI flags). Unknown keys in the config file are
// fatal with "did you mean?" suggestions.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Remote   RemoteConfig   `toml:"remote"`
	Queue    QueueConfig    `toml:"queue"`
	Health   HealthConfig   `toml:"health"`
	Sync     SyncConfig     `toml:"sync"`
	API      APIConfig      `toml:"api"`
	Logging  LoggingConfig  `toml:"logging"`
}

// DatabaseConfig controls local persistence.
type DatabaseConfig struct {
	Path           string `toml:"path"`
	RetentionHours int    `toml:"retention_hours"`
}

// RemoteConfig controls the connection to the remote record store.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// QueueConfig controls the operation queue and processor.
type QueueConfig struct {
	Concurrency      int `toml:"concurrency"`
	MaxRetries       int `toml:"max_retries"`
	BaseDelaySeconds int `toml:"base_delay_seconds"`
	MaxDelaySeconds  int `toml:"max_delay_seconds"`
	SweepSeconds     int `toml:"sweep_seconds"`
}

// HealthConfig controls the health monitor.
type HealthConfig struct {
	IntervalSeconds   int     `toml:"interval_seconds"`
	DegradedThreshold float64 `toml:"degraded_threshold"`
}

// SyncConfig controls the incremental sync engine.
type SyncConfig struct {
	IntervalMinutes int      `toml:"interval_minutes"`
	LookbackHours   int      `toml:"lookback_hours"`
	Owners          []string `toml:"owners"`
}

// APIConfig controls the local HTTP surface.
type APIConfig struct {
	Addr string `toml:"addr"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	Verbose    bool   // --verbose flag
	Quiet      bool   // --quiet flag
	JSON       bool   // --json flag
	Owners     []string
}
