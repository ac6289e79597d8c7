// Package config loads overlook's YAML configuration. A missing file
// is not an error; every field has a working default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard duration type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DiscoveryConfig controls the port scan.
type DiscoveryConfig struct {
	FirstPort        int      `yaml:"first_port"`
	LastPort         int      `yaml:"last_port"`
	Interval         Duration `yaml:"interval"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// BackoffConfig controls the reconnect schedule.
type BackoffConfig struct {
	Base        Duration `yaml:"base"`
	Cap         Duration `yaml:"cap"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Config is the resolved configuration.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	CursorDB  string          `yaml:"cursor_db"`
	LogLevel  string          `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Discovery: DiscoveryConfig{
			FirstPort:        4096,
			LastPort:         4196,
			Interval:         Duration(5 * time.Second),
			HandshakeTimeout: Duration(500 * time.Millisecond),
		},
		Backoff: BackoffConfig{
			Base:        Duration(time.Second),
			Cap:         Duration(30 * time.Second),
			MaxAttempts: 10,
		},
		CursorDB: filepath.Join(home, ".overlook", "cursors.db"),
		LogLevel: "info",
	}
}

// Load reads the config file at path, layering it over the defaults.
// A missing file yields the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Discovery.FirstPort <= 0 || c.Discovery.LastPort < c.Discovery.FirstPort {
		return fmt.Errorf("discovery port range %d-%d is invalid",
			c.Discovery.FirstPort, c.Discovery.LastPort)
	}
	if c.Backoff.MaxAttempts <= 0 {
		return fmt.Errorf("backoff max_attempts must be positive, got %d", c.Backoff.MaxAttempts)
	}
	return nil
}
