package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Discovery.FirstPort != 4096 || cfg.Discovery.LastPort != 4196 {
		t.Errorf("default port range = %d-%d", cfg.Discovery.FirstPort, cfg.Discovery.LastPort)
	}
	if cfg.Discovery.Interval.Std() != 5*time.Second {
		t.Errorf("default interval = %v", cfg.Discovery.Interval.Std())
	}
	if cfg.Discovery.HandshakeTimeout.Std() != 500*time.Millisecond {
		t.Errorf("default handshake timeout = %v", cfg.Discovery.HandshakeTimeout.Std())
	}
	if cfg.Backoff.Base.Std() != time.Second || cfg.Backoff.Cap.Std() != 30*time.Second {
		t.Errorf("default backoff = %v/%v", cfg.Backoff.Base.Std(), cfg.Backoff.Cap.Std())
	}
	if cfg.Backoff.MaxAttempts != 10 {
		t.Errorf("default max attempts = %d", cfg.Backoff.MaxAttempts)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlook.yaml")
	content := `
discovery:
  first_port: 9000
  last_port: 9010
  interval: 30s
backoff:
  max_attempts: 3
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discovery.FirstPort != 9000 || cfg.Discovery.LastPort != 9010 {
		t.Errorf("port range = %d-%d", cfg.Discovery.FirstPort, cfg.Discovery.LastPort)
	}
	if cfg.Discovery.Interval.Std() != 30*time.Second {
		t.Errorf("interval = %v", cfg.Discovery.Interval.Std())
	}
	// Untouched fields keep their defaults.
	if cfg.Discovery.HandshakeTimeout.Std() != 500*time.Millisecond {
		t.Errorf("handshake timeout lost its default: %v", cfg.Discovery.HandshakeTimeout.Std())
	}
	if cfg.Backoff.MaxAttempts != 3 {
		t.Errorf("max attempts = %d", cfg.Backoff.MaxAttempts)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoad_RejectsInvalidPortRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlook.yaml")
	content := `
discovery:
  first_port: 9010
  last_port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for inverted port range")
	}
}

func TestLoad_RejectsMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlook.yaml")
	if err := os.WriteFile(path, []byte("discovery:\n  interval: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
