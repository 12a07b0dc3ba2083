// Package config loads the realtime client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the realtime client.
type Config struct {
	API          APIConfig          `yaml:"api"`
	Identity     IdentityConfig     `yaml:"identity"`
	History      HistoryConfig      `yaml:"history"`
	Connection   ConnectionConfig   `yaml:"connection"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Redis        RedisConfig        `yaml:"redis"`
}

// APIConfig locates the backend REST and stream endpoints.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	WSBaseURL  string        `yaml:"ws_base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// IdentityConfig locates the persisted session identity file.
type IdentityConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig controls the one-shot backlog load.
type HistoryConfig struct {
	Disabled bool `yaml:"disabled"`
}

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// SubscriptionConfig tunes the subscribe handshake.
type SubscriptionConfig struct {
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

// RedisConfig locates the cross-context bus backend. An empty address
// selects the in-process bus.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads a YAML config file with ${VAR} environment substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads a config file, applies defaults, and validates.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
