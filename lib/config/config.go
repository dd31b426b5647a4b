// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. The config file is the single
// source of truth; environment variables do not override values.
type Config struct {
	// Relay configures the relay connection.
	Relay RelayConfig `yaml:"relay"`

	// Credentials configures credential storage.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Sync configures state synchronization.
	Sync SyncConfig `yaml:"sync"`

	// Permissions configures the permission-approval flow.
	Permissions PermissionsConfig `yaml:"permissions"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`
}

// RelayConfig configures the relay connection.
type RelayConfig struct {
	// URL is the relay base URL. Required.
	URL string `yaml:"url"`

	// ReconnectDelay is the fixed delay between reconnect attempts.
	// Default: 1s.
	ReconnectDelay string `yaml:"reconnect_delay"`
}

// CredentialsConfig configures credential storage.
type CredentialsConfig struct {
	// Path is the credential file location.
	// Default: ~/.config/agentmirror/credentials.json
	Path string `yaml:"path"`
}

// SyncConfig configures state synchronization.
type SyncConfig struct {
	// HeartbeatInterval is the heartbeat cadence. Default: 2s.
	HeartbeatInterval string `yaml:"heartbeat_interval"`

	// MaxUpdateAttempts caps version-conflict retries per update.
	// Default: 5.
	MaxUpdateAttempts int `yaml:"max_update_attempts"`
}

// PermissionsConfig configures the permission-approval flow.
type PermissionsConfig struct {
	// HoldTimeout is how long a reply may wait for a permission
	// decision before the hold is treated as a denial. Default: 5m.
	HoldTimeout string `yaml:"hold_timeout"`
}

// Default returns the default configuration, used as a base before
// the config file is merged in.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Relay: RelayConfig{
			ReconnectDelay: "1s",
		},
		Credentials: CredentialsConfig{
			Path: filepath.Join(homeDir, ".config", "agentmirror", "credentials.json"),
		},
		Sync: SyncConfig{
			HeartbeatInterval: "2s",
			MaxUpdateAttempts: 5,
		},
		Permissions: PermissionsConfig{
			HoldTimeout: "5m",
		},
		LogLevel: "info",
	}
}

// LoadFile loads configuration from path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Relay.URL == "" {
		errs = append(errs, fmt.Errorf("relay.url is required"))
	} else if parsed, err := url.Parse(c.Relay.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("relay.url %q is not an absolute URL", c.Relay.URL))
	}

	if c.Credentials.Path == "" {
		errs = append(errs, fmt.Errorf("credentials.path is required"))
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"relay.reconnect_delay", c.Relay.ReconnectDelay},
		{"sync.heartbeat_interval", c.Sync.HeartbeatInterval},
		{"permissions.hold_timeout", c.Permissions.HoldTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if c.Sync.MaxUpdateAttempts <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_update_attempts must be positive"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Durations below parse the string fields Validate has already
// checked; a bad value in an unvalidated Config falls back to the
// default.

// ReconnectDelay returns relay.reconnect_delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return parseDuration(c.Relay.ReconnectDelay, time.Second)
}

// HeartbeatInterval returns sync.heartbeat_interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return parseDuration(c.Sync.HeartbeatInterval, 2*time.Second)
}

// HoldTimeout returns permissions.hold_timeout as a duration.
func (c *Config) HoldTimeout() time.Duration {
	return parseDuration(c.Permissions.HoldTimeout, 5*time.Minute)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
