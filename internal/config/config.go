// ABOUTME: Configuration loading and parsing for realmgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/realmgate/internal/transport"
)

// Defaults applied by Load when a field is left empty
const (
	DefaultBindAddress     = "0.0.0.0"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsPath     = "/metrics"
	DefaultMaxFailedLogins = 5
	DefaultLockoutWindow   = 15 * time.Minute
)

// Config represents the complete realmgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the game-facing listener and the operator surfaces
type ServerConfig struct {
	BindAddress    string `yaml:"bind_address" toml:"bind_address"`
	Port           int    `yaml:"port" toml:"port"`
	Backlog        int    `yaml:"backlog" toml:"backlog"`
	MaxSessions    int    `yaml:"max_sessions" toml:"max_sessions"`
	FrameSize      string `yaml:"frame_size" toml:"frame_size"` // "word" or "dword"
	MaxMessageSize int    `yaml:"max_message_size" toml:"max_message_size"`
	HTTPAddr       string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr       string `yaml:"grpc_addr" toml:"grpc_addr"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds login policy and operator API configuration
type AuthConfig struct {
	// JWTSecret protects /api/*. Empty leaves the API open.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	// MaxFailedLogins below zero disables lockout.
	MaxFailedLogins int `yaml:"max_failed_logins" toml:"max_failed_logins"`

	LockoutWindow    time.Duration `yaml:"-" toml:"-"`
	LockoutWindowRaw string        `yaml:"lockout_window" toml:"lockout_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = DefaultBindAddress
	}
	if c.Server.Backlog == 0 {
		c.Server.Backlog = transport.DefaultBacklog
	}
	if c.Server.FrameSize == "" {
		c.Server.FrameSize = transport.SizeWord.String()
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Auth.MaxFailedLogins == 0 {
		c.Auth.MaxFailedLogins = DefaultMaxFailedLogins
	}
	if c.Auth.LockoutWindow == 0 {
		c.Auth.LockoutWindow = DefaultLockoutWindow
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The port comes from the tailnet listener when tailscale is enabled
	if !c.Tailscale.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535 (or enable tailscale), got %d", c.Server.Port)
	}
	if c.Tailscale.Enabled && (c.Server.Port < 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	if c.Server.Backlog < 0 {
		return fmt.Errorf("server.backlog must not be negative")
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.max_sessions must not be negative")
	}

	sizeType, err := transport.ParseSizeType(c.Server.FrameSize)
	if err != nil {
		return fmt.Errorf("server.frame_size: %w", err)
	}
	if c.Server.MaxMessageSize < 0 || uint64(c.Server.MaxMessageSize) > sizeType.Limit() {
		return fmt.Errorf("server.max_message_size must be between 0 and %d for %s frames", sizeType.Limit(), sizeType)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// Framing returns the transport options described by the server section.
// It assumes Validate has passed.
func (c *Config) Framing() transport.Options {
	sizeType, _ := transport.ParseSizeType(c.Server.FrameSize)
	return transport.Options{SizeType: sizeType, MaxMessageSize: c.Server.MaxMessageSize}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Auth.LockoutWindowRaw != "" {
		cfg.Auth.LockoutWindow, err = time.ParseDuration(cfg.Auth.LockoutWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing lockout_window %q: %w", cfg.Auth.LockoutWindowRaw, err)
		}
	}

	return nil
}
