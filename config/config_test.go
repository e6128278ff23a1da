package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, DefaultAddress, c.APIAddress())
	assert.Equal(t, 120, c.Auth.RateLimitMaxAttempts)
	assert.Equal(t, time.Minute, c.Auth.RateLimitWindow)
	assert.Equal(t, 30*time.Second, c.SSO.MemoryTTL)
	assert.Equal(t, 5*time.Minute, c.SSO.ExpiryMargin)
	assert.Equal(t, 12*time.Hour, c.Console.SessionDuration)
	assert.Equal(t, 10*time.Second, c.Console.FederationTimeout)
	assert.Contains(t, c.CORS.AllowedOrigins, "moz-extension://*")
	assert.True(t, filepath.IsAbs(c.AWS.CredentialsFile))
	require.NoError(t, c.Validate())
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

listener "tcp" {
  address = "127.0.0.1:12000"
}

aws {
  credentials_file = "/tmp/creds"
}

auth {
  rate_limit_max_attempts = 5
  rate_limit_window       = "30s"
}

sso {
  expiry_margin = "0"
  verify_roles  = true
}

console {
  session_duration = "1h"
}
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, c.Source)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "127.0.0.1:12000", c.APIAddress())
	assert.Equal(t, "/tmp/creds", c.AWS.CredentialsFile)
	assert.Equal(t, 5, c.Auth.RateLimitMaxAttempts)
	assert.Equal(t, 30*time.Second, c.Auth.RateLimitWindow)
	assert.Zero(t, c.SSO.ExpiryMargin)
	assert.True(t, c.SSO.VerifyRoles)
	assert.Equal(t, time.Hour, c.Console.SessionDuration)
	// Unset values keep their defaults
	assert.Equal(t, 10*time.Second, c.SSO.ExchangeTimeout)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfig_RejectsNonLoopback(t *testing.T) {
	path := writeConfig(t, `
listener "tcp" {
  address = "0.0.0.0:10999"
}
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a loopback address")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, `
auth {
  rate_limit_window = "soon"
}
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.rate_limit_window")
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `log_level = "warn"`)
	t.Setenv(EnvLogLevel, "trace")
	t.Setenv(EnvAddress, "http://localhost:11000")
	t.Setenv(EnvTokenFile, "/tmp/token.json")

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "trace", c.LogLevel)
	assert.Equal(t, "localhost:11000", c.APIAddress())
	assert.Equal(t, "/tmp/token.json", c.Auth.TokenFile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"unknown listener", func(c *Config) { c.Listeners[0].Type = "unix" }, "unknown listener type"},
		{"zero attempts", func(c *Config) { c.Auth.RateLimitMaxAttempts = -1 }, "rate_limit_max_attempts"},
		{"session too long", func(c *Config) { c.Console.SessionDuration = 13 * time.Hour }, "session_duration"},
		{"negative margin", func(c *Config) { c.SSO.ExpiryMargin = -time.Second }, "margins"},
		{"ipv6 loopback ok", func(c *Config) { c.Listeners[0].Address = "[::1]:10999" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.hcl")
	require.NoError(t, Default().WriteFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Auth.RateLimitWindow, c.Auth.RateLimitWindow)
	assert.Equal(t, Default().APIAddress(), c.APIAddress())
}
