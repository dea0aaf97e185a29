package config

import (
	"os"
	"path/filepath"
)

const appDirName = "mailsync"

// DefaultConfigPath returns the platform default config file location,
// typically ~/.config/mailsync/config.toml on Linux.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "config.toml")
	}

	return filepath.Join(base, appDirName, "config.toml")
}

// DefaultDatabasePath returns the platform default queue database
// location, typically ~/.local/state/mailsync/mailsync.db on Linux.
func DefaultDatabasePath() string {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, appDirName, "mailsync.db")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailsync.db")
	}

	return filepath.Join(home, ".local", "state", appDirName, "mailsync.db")
}
