// Package config loads agent configuration. Sources are layered: built-in
// defaults, then an optional YAML file, then SIDELINE_* environment
// variables, each overriding the previous.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/mcoot/sideline/internal/api"
	"github.com/mcoot/sideline/internal/router"
	"github.com/mcoot/sideline/internal/storage/badger"
	redisstorage "github.com/mcoot/sideline/internal/storage/redis"
	"github.com/mcoot/sideline/internal/supervisor"
	"github.com/mcoot/sideline/internal/syncer"
)

const (
	// EnvPrefix marks environment variables read as configuration.
	// SIDELINE_SYNC_RETRY_ATTEMPTS sets sync.retry_attempts.
	EnvPrefix = "SIDELINE_"

	// ConfigPathEnvVar names an explicit config file
	ConfigPathEnvVar = "SIDELINE_CONFIG"
)

// DefaultConfigPaths are searched when no path is given
var DefaultConfigPaths = []string{
	"sideline.yaml",
	"config/sideline.yaml",
}

// Remote provider names
const (
	RemoteRedis  = "redis"
	RemoteMemory = "memory"
)

// Config is the full agent configuration
type Config struct {
	Server  api.ServerConfig     `koanf:"server"`
	Log     LogConfig            `koanf:"log"`
	Local   badger.Config        `koanf:"local"`
	Remote  RemoteConfig         `koanf:"remote"`
	Redis   redisstorage.Config  `koanf:"redis"`
	Breaker router.BreakerConfig `koanf:"breaker"`
	Sync    syncer.Config        `koanf:"sync"`
	Notify  NotifyConfig         `koanf:"notify"`
	Agent   AgentConfig          `koanf:"agent"`

	Supervisor supervisor.TreeConfig `koanf:"supervisor"`
}

// LogConfig selects log verbosity and encoding
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// RemoteConfig selects the remote backend
type RemoteConfig struct {
	Provider string `koanf:"provider" validate:"oneof=redis memory"`
}

// NotifyConfig configures notification fan-out beyond the event stream
type NotifyConfig struct {
	// NATSURL enables publishing sync events to NATS when set
	NATSURL string `koanf:"nats_url" validate:"omitempty,url"`
	Subject string `koanf:"subject" validate:"required"`
}

// AgentConfig holds the state the agent starts in
type AgentConfig struct {
	StartOnline bool `koanf:"start_online"`

	// UserID signs the agent in at startup when set
	UserID string `koanf:"user_id"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Server:  api.DefaultServerConfig(),
		Log:     LogConfig{Level: "info", Format: "json"},
		Local:   badger.DefaultConfig(),
		Remote:  RemoteConfig{Provider: RemoteRedis},
		Redis:   redisstorage.DefaultConfig(),
		Breaker: router.DefaultBreakerConfig(),
		Sync:    syncer.DefaultConfig(),
		Notify:  NotifyConfig{Subject: "sideline.sync"},
		Agent:   AgentConfig{StartOnline: true},

		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// Load builds the configuration. An empty path falls back to
// SIDELINE_CONFIG and then DefaultConfigPaths; a missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section against its constraints
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// NewLogger builds the process logger described by the log section
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps SIDELINE_SECTION_SOME_KEY to section.some_key.
// Section names never contain underscores, so the first one splits.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || section == "config" {
		return ""
	}
	return section + "." + rest
}
