// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package config loads the tracker configuration from layered sources with
// clear precedence: environment variables over config file over built-in
// defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gps-sub001/config.yaml",
	"/etc/gps-sub001/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the full tracker configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Stream  StreamConfig  `koanf:"stream"`
	Poll    PollConfig    `koanf:"poll"`
	Cache   CacheConfig   `koanf:"cache"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig points at the tracking server.
type ServerConfig struct {
	URL   string `koanf:"url" validate:"required,url"`
	Token string `koanf:"token" validate:"required"`
}

// StreamConfig tunes the live connection.
type StreamConfig struct {
	PingInterval         time.Duration `koanf:"ping_interval" validate:"gt=0"`
	ReconnectBase        time.Duration `koanf:"reconnect_base_interval" validate:"gt=0"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts" validate:"gt=0"`
	HandshakeTimeout     time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
}

// PollConfig tunes the baseline refresh poller.
type PollConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// CacheConfig locates the durable snapshot store.
type CacheConfig struct {
	Path string        `koanf:"path" validate:"required"`
	TTL  time.Duration `koanf:"ttl" validate:"gt=0"`
}

// MetricsConfig exposes the observability listener.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_if=Enabled true"`
}

// LoggingConfig mirrors the logging package's init options.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:   "",
			Token: "",
		},
		Stream: StreamConfig{
			PingInterval:         30 * time.Second,
			ReconnectBase:        2 * time.Second,
			MaxReconnectAttempts: 10,
			HandshakeTimeout:     10 * time.Second,
		},
		Poll: PollConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Path: "/data/gps-sub001",
			TTL:  5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path, used by tests and the
// --config flag.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings translates flat environment variable names into koanf paths.
// Unlisted variables are ignored so unrelated environment noise cannot leak
// into the configuration.
var envMappings = map[string]string{
	"tracking_server_url":           "server.url",
	"tracking_server_token":         "server.token",
	"stream_ping_interval":          "stream.ping_interval",
	"stream_reconnect_base":         "stream.reconnect_base_interval",
	"stream_max_reconnect_attempts": "stream.max_reconnect_attempts",
	"stream_handshake_timeout":      "stream.handshake_timeout",
	"poll_enabled":                  "poll.enabled",
	"poll_interval":                 "poll.interval",
	"cache_path":                    "cache.path",
	"cache_ttl":                     "cache.ttl",
	"metrics_enabled":               "metrics.enabled",
	"metrics_addr":                  "metrics.addr",
	"log_level":                     "logging.level",
	"log_format":                    "logging.format",
	"log_caller":                    "logging.caller",
}

func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
