// internal/config/config_test.go

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.RPC.RequestTimeout.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Channel.StartDelay.Std())
	assert.Equal(t, "*", cfg.Channel.TargetOrigin)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeConfig(t, "framelink.yaml", `
server:
  name: "Test Server"
  addr: ":9090"
channel:
  allowed_origins:
    - "https://*.example.com"
    - "https://app.example.org"
  start_delay: "250ms"
rpc:
  request_timeout: "5s"
  strict_validation: false
logging:
  level: "debug"
  backend: "zerolog"
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Test Server", cfg.Server.Name)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://*.example.com", "https://app.example.org"}, cfg.Channel.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Channel.StartDelay.Std())
	assert.Equal(t, 5*time.Second, cfg.RPC.RequestTimeout.Std())
	assert.False(t, cfg.RPC.StrictValidation)
	// Unset keys keep their defaults.
	assert.True(t, cfg.RPC.Validation)
	assert.Equal(t, "0.1.0", cfg.Server.Version)
	assert.Equal(t, "zerolog", cfg.Logging.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeConfig(t, "framelink.toml", `
[server]
name = "Toml Server"

[channel]
allowed_origins = ["https://widget.example"]
target_origin = "https://widget.example"

[rpc]
request_timeout = "2s"

[bridge]
url = "ws://127.0.0.1:9000/ws"
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Toml Server", cfg.Server.Name)
	assert.Equal(t, []string{"https://widget.example"}, cfg.Channel.AllowedOrigins)
	assert.Equal(t, "https://widget.example", cfg.Channel.TargetOrigin)
	assert.Equal(t, 2*time.Second, cfg.RPC.RequestTimeout.Std())
	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.Bridge.URL)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		path := writeConfig(t, "bad.yaml", "server: [unclosed")
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		path := writeConfig(t, "bad.yaml", "rpc:\n  request_timeout: \"soon\"\n")
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("UnsupportedExtension", func(t *testing.T) {
		path := writeConfig(t, "config.json", "{}")
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "framelink.yaml", "server:\n  name: \"From File\"\n  addr: \":9090\"\n")
	t.Setenv("FRAMELINK_SERVER_ADDR", ":7070")
	t.Setenv("FRAMELINK_ALLOWED_ORIGINS", "https://a.example, ,https://*.b.example")
	t.Setenv("FRAMELINK_REQUEST_TIMEOUT", "750ms")
	t.Setenv("FRAMELINK_LOG_LEVEL", "warn")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "From File", cfg.Server.Name)
	assert.Equal(t, ":7070", cfg.Server.Addr, "environment wins over file")
	assert.Equal(t, []string{"https://a.example", "https://*.b.example"}, cfg.Channel.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.RPC.RequestTimeout.Std())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvironmentOverrides_InvalidDurationIgnored(t *testing.T) {
	t.Setenv("FRAMELINK_REQUEST_TIMEOUT", "later")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RPC.RequestTimeout.Std())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "EmptyName", mutate: func(c *Config) { c.Server.Name = "  " }, wantErr: true},
		{name: "ZeroTimeout", mutate: func(c *Config) { c.RPC.RequestTimeout = 0 }, wantErr: true},
		{name: "NegativeStartDelay", mutate: func(c *Config) { c.Channel.StartDelay = Duration(-time.Second) }, wantErr: true},
		{name: "BadTargetOrigin", mutate: func(c *Config) { c.Channel.TargetOrigin = "widget" }, wantErr: true},
		{name: "UnknownBackend", mutate: func(c *Config) { c.Logging.Backend = "logrus" }, wantErr: true},
		{name: "UnknownFormat", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "UnmatchablePatternOnlyWarns", mutate: func(c *Config) { c.Channel.AllowedOrigins = []string{"https://a.*.example"} }},
		{name: "ExactTargetOrigin", mutate: func(c *Config) { c.Channel.TargetOrigin = "https://widget.example" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetupLogging_Zerolog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Backend = "zerolog"
	cfg.Logging.Level = "debug"

	var buf bytes.Buffer
	cfg.SetupLogging(&buf)
	t.Cleanup(func() { DefaultConfig().SetupLogging(os.Stderr) })

	t.Setenv("FRAMELINK_LOG_LEVEL", "info")
	_, err := Load("")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "FRAMELINK_LOG_LEVEL")
}
