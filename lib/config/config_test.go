// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentmirror.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
relay:
  url: https://relay.example.com
sync:
  heartbeat_interval: 10s
log_level: debug
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.Relay.URL != "https://relay.example.com" {
		t.Errorf("relay.url = %q", cfg.Relay.URL)
	}
	if cfg.HeartbeatInterval() != 10*time.Second {
		t.Errorf("heartbeat interval = %v, want 10s", cfg.HeartbeatInterval())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}

	// Untouched fields keep their defaults.
	if cfg.ReconnectDelay() != time.Second {
		t.Errorf("reconnect delay = %v, want 1s", cfg.ReconnectDelay())
	}
	if cfg.Sync.MaxUpdateAttempts != 5 {
		t.Errorf("max_update_attempts = %d, want 5", cfg.Sync.MaxUpdateAttempts)
	}
	if cfg.HoldTimeout() != 5*time.Minute {
		t.Errorf("hold timeout = %v, want 5m", cfg.HoldTimeout())
	}
	if cfg.Credentials.Path == "" {
		t.Error("credentials.path default is empty")
	}
}

func TestLoadFile_MissingRelayURL(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "relay.url") {
		t.Errorf("LoadFile() error = %v, want relay.url complaint", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Relay.URL = "not a url"
	cfg.Sync.HeartbeatInterval = "soon"
	cfg.Sync.MaxUpdateAttempts = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() accepted a broken config")
	}
	for _, want := range []string{"relay.url", "heartbeat_interval", "max_update_attempts", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error misses %q: %v", want, err)
		}
	}
}

func TestLoadFile_FileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile() succeeded on a missing file")
	}
}
