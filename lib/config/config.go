// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "TANDEM_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the configuration of a tandem server.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Listen is the HTTP listen address, e.g. "127.0.0.1:8080".
	Listen string `yaml:"listen"`

	Paths   PathsConfig   `yaml:"paths"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`

	// Per-environment overrides, applied after the base values.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Empty and zero fields leave the base value alone.
type ConfigOverrides struct {
	Listen  string         `yaml:"listen,omitempty"`
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
	Store   *StoreConfig   `yaml:"store,omitempty"`
	HTTP    *HTTPConfig    `yaml:"http,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for tandem data. Other paths default
	// to files under ${TANDEM_ROOT}.
	Root string `yaml:"root"`

	// Database is the SQLite document database.
	Database string `yaml:"database"`

	// SigningKey is the 32-byte token signing key, created on first
	// start if missing.
	SigningKey string `yaml:"signing_key"`
}

// SessionConfig tunes the pairing hub.
type SessionConfig struct {
	// Heartbeat is the longest inbound silence a connection survives.
	// Default: 5s
	Heartbeat time.Duration `yaml:"heartbeat"`

	// SignalCapacity bounds each direction of a session's signal
	// queues. Default: 16
	SignalCapacity int `yaml:"signal_capacity"`

	// MailboxCapacity bounds the frames queued for one connection.
	// Default: 16
	MailboxCapacity int `yaml:"mailbox_capacity"`

	// StoreFailureLimit is how many consecutive storage failures end
	// a leader connection. Default: 1
	StoreFailureLimit int `yaml:"store_failure_limit"`

	// EditIdleTimeout is the longest inbound silence a solo edit
	// connection survives. Editors do not ping. Default: 0 (never)
	EditIdleTimeout time.Duration `yaml:"edit_idle_timeout"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	// Compression is "none", "lz4" or "zstd". Default: zstd
	Compression string `yaml:"compression"`

	// PoolSize is the number of SQLite connections. Zero picks a
	// size from the CPU count.
	PoolSize int `yaml:"pool_size"`
}

// HTTPConfig configures the HTTP and websocket surface.
type HTTPConfig struct {
	// AllowedOrigins lists browser origins allowed to open websockets.
	// Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageBytes bounds inbound websocket frames and request
	// bodies. Default: 16 MiB
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: text (development), json
	// (production)
	Format string `yaml:"format"`
}

// Default returns the default configuration, used as the base before
// loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Listen:      "127.0.0.1:8080",
		Paths: PathsConfig{
			Root:       filepath.Join(homeDir, ".local", "share", "tandem"),
			Database:   "${TANDEM_ROOT}/tandem.db",
			SigningKey: "${TANDEM_ROOT}/signing-key",
		},
		Session: SessionConfig{
			Heartbeat:         5 * time.Second,
			SignalCapacity:    16,
			MailboxCapacity:   16,
			StoreFailureLimit: 1,
		},
		Store: StoreConfig{
			Compression: "zstd",
		},
		HTTP: HTTPConfig{
			MaxMessageBytes: 16 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the file named by TANDEM_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tandem.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc are read as JSON with comments; anything else as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one decoder handles both.
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{Log: &LogConfig{Format: "json"}}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Listen != "" {
		c.Listen = overrides.Listen
	}

	if overrides.Paths != nil {
		setString(&c.Paths.Root, overrides.Paths.Root)
		setString(&c.Paths.Database, overrides.Paths.Database)
		setString(&c.Paths.SigningKey, overrides.Paths.SigningKey)
	}

	if overrides.Session != nil {
		setPositive(&c.Session.Heartbeat, overrides.Session.Heartbeat)
		setPositive(&c.Session.SignalCapacity, overrides.Session.SignalCapacity)
		setPositive(&c.Session.MailboxCapacity, overrides.Session.MailboxCapacity)
		setPositive(&c.Session.StoreFailureLimit, overrides.Session.StoreFailureLimit)
		setPositive(&c.Session.EditIdleTimeout, overrides.Session.EditIdleTimeout)
	}

	if overrides.Store != nil {
		setString(&c.Store.Compression, overrides.Store.Compression)
		setPositive(&c.Store.PoolSize, overrides.Store.PoolSize)
	}

	if overrides.HTTP != nil {
		if len(overrides.HTTP.AllowedOrigins) > 0 {
			c.HTTP.AllowedOrigins = overrides.HTTP.AllowedOrigins
		}
		setPositive(&c.HTTP.MaxMessageBytes, overrides.HTTP.MaxMessageBytes)
		setPositive(&c.HTTP.ShutdownTimeout, overrides.HTTP.ShutdownTimeout)
	}

	if overrides.Log != nil {
		setString(&c.Log.Level, overrides.Log.Level)
		setString(&c.Log.Format, overrides.Log.Format)
	}
}

func setString(field *string, value string) {
	if value != "" {
		*field = value
	}
}

func setPositive[T int | int64 | time.Duration](field *T, value T) {
	if value > 0 {
		*field = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TANDEM_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TANDEM_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.SigningKey = expandVars(c.Paths.SigningKey, vars)
	c.Listen = expandVars(c.Listen, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, errors.New("paths.database is required"))
	}
	if c.Paths.SigningKey == "" {
		errs = append(errs, errors.New("paths.signing_key is required"))
	}

	if c.Session.Heartbeat <= 0 {
		errs = append(errs, errors.New("session.heartbeat must be positive"))
	}
	if c.Session.SignalCapacity < 1 {
		errs = append(errs, errors.New("session.signal_capacity must be at least 1"))
	}
	if c.Session.MailboxCapacity < 1 {
		errs = append(errs, errors.New("session.mailbox_capacity must be at least 1"))
	}
	if c.Session.StoreFailureLimit < 1 {
		errs = append(errs, errors.New("session.store_failure_limit must be at least 1"))
	}
	if c.Session.EditIdleTimeout < 0 {
		errs = append(errs, errors.New("session.edit_idle_timeout must not be negative"))
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Store.Compression) {
		errs = append(errs, fmt.Errorf("store.compression must be one of: %v", compressions))
	}
	if c.Store.PoolSize < 0 {
		errs = append(errs, errors.New("store.pool_size must not be negative"))
	}

	if c.HTTP.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("http.max_message_bytes must be positive"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	formats := []string{"text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the root directory and the parent directories of
// the database and signing key.
func (c *Config) EnsurePaths() error {
	directories := []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.Database),
		filepath.Dir(c.Paths.SigningKey),
	}
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
