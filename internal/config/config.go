package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Positioning BusConfig `yaml:"positioning"`
	Legacy      BusConfig `yaml:"legacy"`

	// GraceTimeoutMs is the delay in milliseconds between the last session
	// deactivation and the tracking stop. Overridable with --grace-timeout.
	GraceTimeoutMs int `yaml:"grace_timeout_ms"`

	// History bounds the number of retained fixes.
	History int `yaml:"history"`

	Web WebConfig `yaml:"web"`
}

type BusConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`

	// CallTimeoutMs bounds request/reply exchanges on this bus.
	CallTimeoutMs int `yaml:"call_timeout_ms"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// GraceTimeout returns the grace delay as a duration.
func (c Config) GraceTimeout() time.Duration {
	return time.Duration(c.GraceTimeoutMs) * time.Millisecond
}

// CallTimeout returns the request/reply bound as a duration.
func (b BusConfig) CallTimeout() time.Duration {
	return time.Duration(b.CallTimeoutMs) * time.Millisecond
}

// Default returns the configuration used when no config file is present.
func Default() Config {
	var cfg Config
	_ = DefaultAndValidate(&cfg)
	return cfg
}

// Load reads a YAML config file and applies defaults. A missing file is
// not an error: the daemon runs with defaults (the CLI surface is just
// --debug and --grace-timeout).
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects invalid values.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Positioning.Broker == "" {
		cfg.Positioning.Broker = "tcp://127.0.0.1:1883"
	}
	if cfg.Positioning.ClientID == "" {
		cfg.Positioning.ClientID = "geobridge"
	}
	if cfg.Positioning.CallTimeoutMs <= 0 {
		cfg.Positioning.CallTimeoutMs = 2000
	}

	if cfg.Legacy.Broker == "" {
		cfg.Legacy.Broker = cfg.Positioning.Broker
	}
	if cfg.Legacy.ClientID == "" {
		cfg.Legacy.ClientID = "geobridge-legacy"
	}
	if cfg.Legacy.CallTimeoutMs <= 0 {
		cfg.Legacy.CallTimeoutMs = 2000
	}

	if cfg.GraceTimeoutMs < 0 {
		return fmt.Errorf("grace_timeout_ms must be >= 0")
	}
	if cfg.GraceTimeoutMs == 0 {
		cfg.GraceTimeoutMs = 15000
	}

	if cfg.History < 0 {
		return fmt.Errorf("history must be >= 0")
	}
	if cfg.History == 0 {
		cfg.History = 25
	}

	if cfg.Web.Enable && cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8078"
	}

	return nil
}
