package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
)

// Validation range constants.
const (
	minConcurrency = 1
	maxConcurrency = 32
	minRetries     = 1
	maxRetries     = 10
	minDelay       = 1
	maxDelay       = 300
	minSweep       = 1
	minInterval    = 5
	minLookback    = 1
	maxLookback    = 720 // 30 days
	minRetention   = 1
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

var validLogFormats = []string{"auto", "text", "json"}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateHealth(&cfg.Health)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateDatabase(c *DatabaseConfig) []error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("database.path: must not be empty"))
	}

	if c.RetentionHours < minRetention {
		errs = append(errs, fmt.Errorf("database.retention_hours: must be at least %d, got %d",
			minRetention, c.RetentionHours))
	}

	return errs
}

func validateRemote(c *RemoteConfig) []error {
	var errs []error

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url: must be an absolute URL, got %q", c.BaseURL))
		}
	}

	if c.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("remote.timeout_seconds: must be positive, got %d", c.TimeoutSeconds))
	}

	return errs
}

func validateQueue(c *QueueConfig) []error {
	var errs []error

	if c.Concurrency < minConcurrency || c.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("queue.concurrency: must be %d-%d, got %d",
			minConcurrency, maxConcurrency, c.Concurrency))
	}

	if c.MaxRetries < minRetries || c.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("queue.max_retries: must be %d-%d, got %d",
			minRetries, maxRetries, c.MaxRetries))
	}

	if c.BaseDelaySeconds < minDelay {
		errs = append(errs, fmt.Errorf("queue.base_delay_seconds: must be at least %d, got %d",
			minDelay, c.BaseDelaySeconds))
	}

	if c.MaxDelaySeconds < c.BaseDelaySeconds || c.MaxDelaySeconds > maxDelay {
		errs = append(errs, fmt.Errorf("queue.max_delay_seconds: must be between base delay and %d, got %d",
			maxDelay, c.MaxDelaySeconds))
	}

	if c.SweepSeconds < minSweep {
		errs = append(errs, fmt.Errorf("queue.sweep_seconds: must be at least %d, got %d",
			minSweep, c.SweepSeconds))
	}

	return errs
}

func validateHealth(c *HealthConfig) []error {
	var errs []error

	if c.IntervalSeconds < minInterval {
		errs = append(errs, fmt.Errorf("health.interval_seconds: must be at least %d, got %d",
			minInterval, c.IntervalSeconds))
	}

	if c.DegradedThreshold <= 0 || c.DegradedThreshold > 1 {
		errs = append(errs, fmt.Errorf("health.degraded_threshold: must be in (0,1], got %g",
			c.DegradedThreshold))
	}

	return errs
}

func validateSync(c *SyncConfig) []error {
	var errs []error

	if c.IntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("sync.interval_minutes: must be at least 1, got %d",
			c.IntervalMinutes))
	}

	if c.LookbackHours < minLookback || c.LookbackHours > maxLookback {
		errs = append(errs, fmt.Errorf("sync.lookback_hours: must be %d-%d, got %d",
			minLookback, maxLookback, c.LookbackHours))
	}

	for _, owner := range c.Owners {
		if owner == "" {
			errs = append(errs, errors.New("sync.owners: must not contain empty entries"))

			break
		}
	}

	return errs
}

func validateAPI(c *APIConfig) []error {
	var errs []error

	if c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			errs = append(errs, fmt.Errorf("api.addr: must be host:port, got %q", c.Addr))
		}
	}

	return errs
}

func validateLogging(c *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, c.Level) {
		errs = append(errs, fmt.Errorf("logging.level: must be one of %v, got %q", validLogLevels, c.Level))
	}

	if !slices.Contains(validLogFormats, c.Format) {
		errs = append(errs, fmt.Errorf("logging.format: must be one of %v, got %q", validLogFormats, c.Format))
	}

	return errs
}
