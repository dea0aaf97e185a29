package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "MAILSYNC_CONFIG"
	EnvDBPath  = "MAILSYNC_DB_PATH"
	EnvBaseURL = "MAILSYNC_BASE_URL"
	EnvToken   = "MAILSYNC_TOKEN"
	EnvAPIAddr = "MAILSYNC_API_ADDR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // MAILSYNC_CONFIG: override config file path
	DBPath     string // MAILSYNC_DB_PATH: override database path
	BaseURL    string // MAILSYNC_BASE_URL: remote store base URL
	Token      string // MAILSYNC_TOKEN: remote store bearer token
	APIAddr    string // MAILSYNC_API_ADDR: HTTP API bind address
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. Callers apply the relevant fields; the Config is not modified.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDBPath),
		BaseURL:    os.Getenv(EnvBaseURL),
		Token:      os.Getenv(EnvToken),
		APIAddr:    os.Getenv(EnvAPIAddr),
	}
}
