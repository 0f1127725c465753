// ABOUTME: Configuration loading and parsing for chatsync
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultAPIURL             = "http://localhost:8080/api"
	DefaultWSURL              = "ws://localhost:8080/ws/websocket"
	DefaultInitialDelay       = time.Second
	DefaultMaxDelay           = 30 * time.Second
	DefaultMultiplier         = 2.0
	DefaultMaxAttempts        = 20
	DefaultTypingInterval     = 2 * time.Second
	DefaultDedupeTTL          = 5 * time.Minute
	DefaultDedupeMaxSize      = 1000
	DefaultHistoryPageSize    = 50
	DefaultLogLevel           = "info"
	DefaultSubscribeAll       = true
	DefaultSubscribeTyping    = true
	maxHistoryPageSize        = 500
	minReconnectInitialDelay  = 10 * time.Millisecond
	reconnectUnlimitedAttempt = -1
)

// Config represents the complete chatsync configuration
type Config struct {
	Server        ServerConfig       `yaml:"server" toml:"server"`
	Reconnect     ReconnectConfig    `yaml:"reconnect" toml:"reconnect"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions" toml:"subscriptions"`
	Outbound      OutboundConfig     `yaml:"outbound" toml:"outbound"`
	Dedupe        DedupeConfig       `yaml:"dedupe" toml:"dedupe"`
	History       HistoryConfig      `yaml:"history" toml:"history"`
	Logging       LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the endpoints of the chat server
type ServerConfig struct {
	APIURL string `yaml:"api_url" toml:"api_url"`
	WSURL  string `yaml:"ws_url" toml:"ws_url"`
}

// ReconnectConfig holds the backoff policy used after transport loss.
// MaxAttempts of -1 retries forever; 0 means the default.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"-" toml:"-"`
	MaxDelay     time.Duration `yaml:"-" toml:"-"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts" toml:"max_attempts"`

	// Raw string values for unmarshaling
	InitialDelayRaw string `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelayRaw     string `yaml:"max_delay" toml:"max_delay"`
}

// SubscriptionConfig controls which topics are subscribed.
// All subscribes to every known conversation (needed for unread counts);
// otherwise only the selected conversation is subscribed.
type SubscriptionConfig struct {
	All    *bool `yaml:"all" toml:"all"`
	Typing *bool `yaml:"typing" toml:"typing"`
}

// SubscribeAll reports the effective value of subscriptions.all.
func (s SubscriptionConfig) SubscribeAll() bool {
	if s.All == nil {
		return DefaultSubscribeAll
	}
	return *s.All
}

// SubscribeTyping reports the effective value of subscriptions.typing.
func (s SubscriptionConfig) SubscribeTyping() bool {
	if s.Typing == nil {
		return DefaultSubscribeTyping
	}
	return *s.Typing
}

// OutboundConfig holds publishing settings
type OutboundConfig struct {
	TypingInterval time.Duration `yaml:"-" toml:"-"`

	TypingIntervalRaw string `yaml:"typing_interval" toml:"typing_interval"`
}

// DedupeConfig sizes the inbound redelivery filter
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// HistoryConfig holds message history paging settings
type HistoryConfig struct {
	PageSize int `yaml:"page_size" toml:"page_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(string(data), formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format selects the config file syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes raw configuration content in the given format.
func Parse(content string, format Format) (*Config, error) {
	expanded := expandEnvVars(content)

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

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

// applyDefaults fills zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.APIURL == "" {
		cfg.Server.APIURL = DefaultAPIURL
	}
	if cfg.Server.WSURL == "" {
		cfg.Server.WSURL = DefaultWSURL
	}
	if cfg.Reconnect.InitialDelay == 0 {
		cfg.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = DefaultMultiplier
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Outbound.TypingInterval == 0 {
		cfg.Outbound.TypingInterval = DefaultTypingInterval
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = DefaultDedupeTTL
	}
	if cfg.Dedupe.MaxSize == 0 {
		cfg.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if cfg.History.PageSize == 0 {
		cfg.History.PageSize = DefaultHistoryPageSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	api, err := url.Parse(c.Server.APIURL)
	if err != nil {
		return fmt.Errorf("server.api_url is not a valid URL: %w", err)
	}
	if api.Scheme != "http" && api.Scheme != "https" {
		return fmt.Errorf("server.api_url must use http or https scheme")
	}

	ws, err := url.Parse(c.Server.WSURL)
	if err != nil {
		return fmt.Errorf("server.ws_url is not a valid URL: %w", err)
	}
	if ws.Scheme != "ws" && ws.Scheme != "wss" {
		return fmt.Errorf("server.ws_url must use ws or wss scheme")
	}

	if c.Reconnect.InitialDelay < minReconnectInitialDelay {
		return fmt.Errorf("reconnect.initial_delay must be at least %s", minReconnectInitialDelay)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay must not be less than reconnect.initial_delay")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	}
	if c.Reconnect.MaxAttempts < reconnectUnlimitedAttempt {
		return fmt.Errorf("reconnect.max_attempts must be -1 (unlimited) or positive")
	}

	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}
	if c.History.PageSize < 1 || c.History.PageSize > maxHistoryPageSize {
		return fmt.Errorf("history.page_size must be between 1 and %d", maxHistoryPageSize)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Reconnect.InitialDelayRaw != "" {
		cfg.Reconnect.InitialDelay, err = time.ParseDuration(cfg.Reconnect.InitialDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing initial_delay %q: %w", cfg.Reconnect.InitialDelayRaw, err)
		}
	}

	if cfg.Reconnect.MaxDelayRaw != "" {
		cfg.Reconnect.MaxDelay, err = time.ParseDuration(cfg.Reconnect.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing max_delay %q: %w", cfg.Reconnect.MaxDelayRaw, err)
		}
	}

	if cfg.Outbound.TypingIntervalRaw != "" {
		cfg.Outbound.TypingInterval, err = time.ParseDuration(cfg.Outbound.TypingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing typing_interval %q: %w", cfg.Outbound.TypingIntervalRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
