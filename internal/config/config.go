// Package config handles loading, parsing, and validating application configuration.
// Settings start from defaults, are merged with a YAML or TOML file, and finally
// overridden from FRAMELINK_* environment variables.
// file: internal/config/config.go
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/dkoosis/framelink/internal/origin"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a string such as "30s" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig configures the acceptor side served over websocket.
type ServerConfig struct {
	// Name and Version are announced in the initialize result.
	Name    string `yaml:"name" toml:"name"`
	Version string `yaml:"version" toml:"version"`
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" toml:"addr"`
	// Origin is this server's own origin, reported to peers as the sender of replies.
	Origin string `yaml:"origin" toml:"origin"`
	// StatusPath serves a JSON metrics snapshot. Empty disables it.
	StatusPath string `yaml:"status_path" toml:"status_path"`
}

// ChannelConfig configures message channels in both roles.
type ChannelConfig struct {
	// AllowedOrigins is the sender-origin allow-list. Empty accepts every origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	// TargetOrigin filters the peer's origin: "*" or an exact origin.
	TargetOrigin string `yaml:"target_origin" toml:"target_origin"`
	// StartDelay is waited by initiators before reporting active.
	StartDelay Duration `yaml:"start_delay" toml:"start_delay"`
}

// RPCConfig configures the protocol engines.
type RPCConfig struct {
	RequestTimeout   Duration `yaml:"request_timeout" toml:"request_timeout"`
	Validation       bool     `yaml:"validation" toml:"validation"`
	StrictValidation bool     `yaml:"strict_validation" toml:"strict_validation"`
	ValidateOutgoing bool     `yaml:"validate_outgoing" toml:"validate_outgoing"`
}

// BridgeConfig configures the initiator side used by the call command.
type BridgeConfig struct {
	// URL is the websocket endpoint of a framelink server.
	URL string `yaml:"url" toml:"url"`
	// Origin is sent as this client's origin.
	Origin string `yaml:"origin" toml:"origin"`
	// ClientName is sent as clientInfo.name during initialize.
	ClientName string `yaml:"client_name" toml:"client_name"`
}

// LoggingConfig selects the logging backend.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	// Format is "text" or "json" for the slog backend.
	Format string `yaml:"format" toml:"format"`
	// Backend is "slog" or "zerolog".
	Backend string `yaml:"backend" toml:"backend"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Channel ChannelConfig `yaml:"channel" toml:"channel"`
	RPC     RPCConfig     `yaml:"rpc" toml:"rpc"`
	Bridge  BridgeConfig  `yaml:"bridge" toml:"bridge"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:       "framelink",
			Version:    "0.1.0",
			Addr:       ":8080",
			Origin:     "http://localhost:8080",
			StatusPath: "/status",
		},
		Channel: ChannelConfig{
			TargetOrigin: "*",
			StartDelay:   Duration(100 * time.Millisecond),
		},
		RPC: RPCConfig{
			RequestTimeout:   Duration(30 * time.Second),
			Validation:       true,
			StrictValidation: true,
		},
		Bridge: BridgeConfig{
			URL:        "ws://localhost:8080/ws",
			Origin:     "http://localhost",
			ClientName: "framelink-cli",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Backend: "slog",
		},
	}
}

// Load returns defaults with environment overrides applied, merged with the file at path
// when path is non-empty.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		applyEnvironmentOverrides(cfg, logging.GetLogger("config"))
		return cfg, nil
	}
	return LoadFromFile(path)
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or TOML (.toml) file. '~'
// expands to the home directory.
func LoadFromFile(path string) (*Config, error) {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get home directory to expand path")
		}
		path = filepath.Join(homeDir, path[1:])
	}

	// #nosec G304 -- Path comes from a command-line flag.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file TOML: %s", path)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file YAML: %s", path)
		}
	default:
		return nil, errors.Newf("unsupported config file extension %q", ext)
	}

	applyEnvironmentOverrides(cfg, logging.GetLogger("config"))
	return cfg, nil
}

// applyEnvironmentOverrides applies FRAMELINK_* environment variables, which take
// precedence over file values and defaults.
func applyEnvironmentOverrides(cfg *Config, logger logging.Logger) {
	str := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			logger.Debug("Overriding setting from environment.", "envVar", env, "value", v)
			*dst = v
		}
	}
	dur := func(env string, dst *Duration) {
		v := os.Getenv(env)
		if v == "" {
			return
		}
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err != nil {
			logger.Warn("Invalid duration in environment ignored.", "envVar", env, "value", v, "error", err)
			return
		}
		*dst = d
	}

	str("FRAMELINK_SERVER_NAME", &cfg.Server.Name)
	str("FRAMELINK_SERVER_ADDR", &cfg.Server.Addr)
	str("FRAMELINK_SERVER_ORIGIN", &cfg.Server.Origin)
	str("FRAMELINK_TARGET_ORIGIN", &cfg.Channel.TargetOrigin)
	str("FRAMELINK_BRIDGE_URL", &cfg.Bridge.URL)
	str("FRAMELINK_BRIDGE_ORIGIN", &cfg.Bridge.Origin)
	str("FRAMELINK_LOG_LEVEL", &cfg.Logging.Level)
	str("FRAMELINK_LOG_FORMAT", &cfg.Logging.Format)
	str("FRAMELINK_LOG_BACKEND", &cfg.Logging.Backend)
	dur("FRAMELINK_REQUEST_TIMEOUT", &cfg.RPC.RequestTimeout)
	dur("FRAMELINK_START_DELAY", &cfg.Channel.StartDelay)

	if v := os.Getenv("FRAMELINK_ALLOWED_ORIGINS"); v != "" {
		var patterns []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		logger.Debug("Overriding allowed origins from environment.", "envVar", "FRAMELINK_ALLOWED_ORIGINS", "count", len(patterns))
		cfg.Channel.AllowedOrigins = patterns
	}
}

// Validate checks settings that would make the engines misbehave. Allow-list patterns
// that can never match are logged, not rejected.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Name) == "" {
		return errors.New("server.name must not be empty")
	}
	if c.RPC.RequestTimeout.Std() <= 0 {
		return errors.Newf("rpc.request_timeout must be positive, got %s", c.RPC.RequestTimeout.Std())
	}
	if c.Channel.StartDelay.Std() < 0 {
		return errors.New("channel.start_delay must not be negative")
	}
	if t := c.Channel.TargetOrigin; t != "" && t != "*" {
		if _, ok := origin.Normalize(t); !ok {
			return errors.Newf("channel.target_origin %q is neither \"*\" nor an origin", t)
		}
	}
	switch c.Logging.Backend {
	case "", "slog", "zerolog":
	default:
		return errors.Newf("logging.backend must be slog or zerolog, got %q", c.Logging.Backend)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.Newf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	logger := logging.GetLogger("config")
	for _, p := range c.Channel.AllowedOrigins {
		if !origin.ValidPattern(p) {
			logger.Warn("Allowed origin pattern can never match.", "pattern", p)
		}
	}
	if len(c.Channel.AllowedOrigins) == 0 {
		logger.Warn("No allowed origins configured; every sender origin will be accepted.")
	}
	return nil
}

// SetupLogging installs the configured logging backend as the default logger, writing
// to w.
func (c *Config) SetupLogging(w io.Writer) {
	level := logging.ParseLevel(c.Logging.Level)
	switch {
	case c.Logging.Backend == "zerolog":
		logging.InitZerologLogging(level, w)
	case c.Logging.Format == "json":
		logging.InitLogging(level, w)
	default:
		logging.InitTextLogging(level, w)
	}
}
