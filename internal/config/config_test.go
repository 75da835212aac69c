package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_DefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"id", "userId", "sub"}, cfg.Auth.ClaimNames)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 100, cfg.WebSocket.BufferSize)
	assert.Equal(t, 100, cfg.Router.RateLimit)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.NATS.URL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"relative ws path", func(c *Config) { c.WebSocket.Path = "ws" }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"no claim names", func(c *Config) { c.Auth.ClaimNames = nil }},
		{"verify without secret", func(c *Config) { c.Auth.VerifySignature = true }},
		{"zero lookup timeout", func(c *Config) { c.Router.LookupTimeout = 0 }},
		{"zero rate limit", func(c *Config) { c.Router.RateLimit = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"redis without key", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.Key = "" }},
		{"nats without subject", func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.Subject = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"missing section", func(c *Config) { c.Router = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATRELAY_HTTP_PORT", "9090")
	t.Setenv("CHATRELAY_ROUTER_LOOKUP_TIMEOUT", "750ms")
	t.Setenv("CHATRELAY_AUTH_CLAIM_NAMES", "uid,sub")
	t.Setenv("CHATRELAY_ROUTER_ENFORCE_BLOCKS", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Router.LookupTimeout)
	assert.Equal(t, []string{"uid", "sub"}, cfg.Auth.ClaimNames)
	assert.False(t, cfg.Router.EnforceBlocks)
	// untouched keys keep defaults
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
http:
  port: 7000
websocket:
  allowed_origins: ["https://chat.example.com"]
database:
  path: /tmp/relay.db
redis:
  addr: localhost:6379
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, "/tmp/relay.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "chatrelay:online", cfg.Redis.Key)
}

func TestConfig_LoadFromFileRejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, "database:\n  driver: mysql\n")
	_, err := LoadFromFile(path)
	assert.Error(t, err)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Precedence(t *testing.T) {
	path := writeConfigFile(t, "http:\n  port: 7000\n  host: 127.0.0.1\n")
	t.Setenv("CHATRELAY_HTTP_PORT", "7100")

	cfg, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.HTTP.Port, "environment overrides file")
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host, "file overrides defaults")

	cfg, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.HTTP.Port)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
}

func TestConfig_RedactedRendersAsYAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Secret = "s3cret"
	cfg.Redis.Password = "hunter2"

	out, err := yaml.Marshal(cfg.Redacted())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "s3cret")
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "lookup_timeout: 3s")

	// the original is untouched
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
}
