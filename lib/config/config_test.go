// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Session.Heartbeat != 5*time.Second {
		t.Errorf("expected heartbeat=5s, got %v", cfg.Session.Heartbeat)
	}
	if cfg.Session.EditIdleTimeout != 0 {
		t.Errorf("expected no edit idle timeout, got %v", cfg.Session.EditIdleTimeout)
	}
	if cfg.Store.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Store.Compression)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresTandemConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when TANDEM_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "TANDEM_CONFIG environment variable not set") {
		t.Errorf("unexpected error message %q", err.Error())
	}
}

func TestLoad_WithTandemConfig(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
listen: 0.0.0.0:9000
paths:
  root: /srv/tandem
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("expected listen=0.0.0.0:9000, got %s", cfg.Listen)
	}
	if cfg.Paths.Database != "/srv/tandem/tandem.db" {
		t.Errorf("expected database under the new root, got %s", cfg.Paths.Database)
	}
	if cfg.Paths.SigningKey != "/srv/tandem/signing-key" {
		t.Errorf("expected signing key under the new root, got %s", cfg.Paths.SigningKey)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
listen: 127.0.0.1:7000

session:
  heartbeat: 10s
  signal_capacity: 64
  store_failure_limit: 3
  edit_idle_timeout: 10m

store:
  compression: lz4
  pool_size: 2

http:
  allowed_origins: [https://tandem.example]
  max_message_bytes: 1048576
  shutdown_timeout: 3s

log:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Session.Heartbeat != 10*time.Second {
		t.Errorf("expected heartbeat=10s, got %v", cfg.Session.Heartbeat)
	}
	if cfg.Session.SignalCapacity != 64 || cfg.Session.StoreFailureLimit != 3 {
		t.Errorf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Session.EditIdleTimeout != 10*time.Minute {
		t.Errorf("expected edit_idle_timeout=10m, got %v", cfg.Session.EditIdleTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Session.MailboxCapacity != 16 {
		t.Errorf("expected mailbox_capacity default 16, got %d", cfg.Session.MailboxCapacity)
	}
	if cfg.Store.Compression != "lz4" || cfg.Store.PoolSize != 2 {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "https://tandem.example" {
		t.Errorf("unexpected allowed origins %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.HTTP.MaxMessageBytes != 1<<20 || cfg.HTTP.ShutdownTimeout != 3*time.Second {
		t.Errorf("unexpected http config %+v", cfg.HTTP)
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("expected debug level, got %v (%v)", level, err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "tandem.jsonc", `{
  // Local development server.
  "listen": "127.0.0.1:7100",
  "session": {"heartbeat": "2s"},
  "store": {"compression": "none",},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7100" {
		t.Errorf("expected listen=127.0.0.1:7100, got %s", cfg.Listen)
	}
	if cfg.Session.Heartbeat != 2*time.Second {
		t.Errorf("expected heartbeat=2s, got %v", cfg.Session.Heartbeat)
	}
	if cfg.Store.Compression != "none" {
		t.Errorf("expected compression=none, got %s", cfg.Store.Compression)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
environment: production
listen: 127.0.0.1:8080
session:
  heartbeat: 5s
production:
  listen: 0.0.0.0:443
  session:
    heartbeat: 15s
  log:
    level: warn
development:
  listen: 127.0.0.1:1
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:443" {
		t.Errorf("expected production listen, got %s", cfg.Listen)
	}
	if cfg.Session.Heartbeat != 15*time.Second {
		t.Errorf("expected production heartbeat=15s, got %v", cfg.Session.Heartbeat)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected production level=warn, got %s", cfg.Log.Level)
	}
	// An explicit production section replaces the implicit one.
	if cfg.Log.Format != "text" {
		t.Errorf("expected format=text, got %s", cfg.Log.Format)
	}
}

func TestProductionDefaults(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", "environment: production\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected production format=json, got %s", cfg.Log.Format)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("TANDEM_TEST_DIR", "/from/env")
	vars := map[string]string{"TANDEM_ROOT": "/root/dir"}

	tests := []struct {
		input string
		want  string
	}{
		{"${TANDEM_ROOT}/db", "/root/dir/db"},
		{"${TANDEM_TEST_DIR}/key", "/from/env/key"},
		{"${TANDEM_UNSET_VAR:-/fallback}/x", "/fallback/x"},
		{"${TANDEM_UNSET_VAR}/x", "/x"},
		{"plain/path", "plain/path"},
	}
	for _, tt := range tests {
		if got := expandVars(tt.input, vars); got != tt.want {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Listen = ""
	cfg.Session.Heartbeat = 0
	cfg.Session.SignalCapacity = 0
	cfg.Session.EditIdleTimeout = -time.Second
	cfg.Store.Compression = "gzip"
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"invalid environment",
		"listen is required",
		"session.heartbeat",
		"session.signal_capacity",
		"session.edit_idle_timeout",
		"store.compression",
		"log.level",
		"log.format",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q:\n%v", want, err)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tandem")
	cfg := Default()
	cfg.Paths = PathsConfig{
		Root:       root,
		Database:   filepath.Join(root, "db", "tandem.db"),
		SigningKey: filepath.Join(root, "keys", "signing-key"),
	}

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}
	for _, directory := range []string{root, filepath.Join(root, "db"), filepath.Join(root, "keys")} {
		info, err := os.Stat(directory)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s: %v", directory, err)
		}
	}
}
