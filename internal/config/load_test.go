package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[remote]
base_url = "https://records.example.com"
token = "secret"

[queue]
concurrency = 5

[sync]
owners = ["a@example.com", "b@example.com"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://records.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Sync.Owners)

	// Untouched sections keep their defaults.
	assert.Equal(t, defaultMaxRetries, cfg.Queue.MaxRetries)
	assert.Equal(t, defaultAPIAddr, cfg.API.Addr)
}

func TestLoad_UnknownKeySuggestsClosest(t *testing.T) {
	path := writeConfig(t, `
[queue]
concurency = 5
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.concurency")
	assert.Contains(t, err.Error(), "queue.concurrency")
}

func TestLoad_UnknownSectionFails(t *testing.T) {
	path := writeConfig(t, `
[transfers]
parallel = 4
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_AccumulatesValidationErrors(t *testing.T) {
	path := writeConfig(t, `
[queue]
concurrency = 0
max_retries = 99

[logging]
level = "chatty"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.concurrency")
	assert.Contains(t, err.Error(), "queue.max_retries")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConcurrency, cfg.Queue.Concurrency)
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[remote]
base_url = "https://file.example.com"
`)

	cfg, err := Resolve(EnvOverrides{
		ConfigPath: path,
		BaseURL:    "https://env.example.com",
		Token:      "env-token",
	}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "env-token", cfg.Remote.Token)
}

func TestResolve_CLIWinsOverEnv(t *testing.T) {
	path := writeConfig(t, `
[sync]
owners = ["file@example.com"]
`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{
		Owners:  []string{"cli@example.com"},
		Verbose: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cli@example.com"}, cfg.Sync.Owners)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestResolve_QuietLowersLogLevel(t *testing.T) {
	cfg, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")},
		CLIOverrides{Quiet: true})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvBaseURL, "https://env.example.com")
	t.Setenv(EnvToken, "tok")
	t.Setenv(EnvAPIAddr, "127.0.0.1:9999")

	env := ReadEnvOverrides()

	assert.Equal(t, "https://env.example.com", env.BaseURL)
	assert.Equal(t, "tok", env.Token)
	assert.Equal(t, "127.0.0.1:9999", env.APIAddr)
}

func TestValidate_BadAddrAndURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.BaseURL = "not a url"
	cfg.API.Addr = "no-port"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.base_url")
	assert.Contains(t, err.Error(), "api.addr")
}
