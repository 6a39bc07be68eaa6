// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

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
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadServerConfig_ExampleFile(t *testing.T) {
	cfgPath := filepath.Join("..", "..", "configs", "server.example.yaml")
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("failed to load server example config: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:8080" {
		t.Errorf("expected listen '0.0.0.0:8080', got %q", cfg.Server.Listen)
	}
	if cfg.Staging.Root != "/var/lib/nupload/staging" {
		t.Errorf("unexpected staging root %q", cfg.Staging.Root)
	}
	if cfg.Staging.MaxChunkSizeRaw != 256*1024*1024 {
		t.Errorf("expected max_chunk_size 256MiB, got %d", cfg.Staging.MaxChunkSizeRaw)
	}
	if cfg.Staging.MinFreePercent != 10 {
		t.Errorf("expected min_free_space 10%%, got %v", cfg.Staging.MinFreePercent)
	}
	if !cfg.Janitor.Enabled || cfg.Janitor.MaxAge != 24*time.Hour {
		t.Errorf("unexpected janitor config %+v", cfg.Janitor)
	}
	if len(cfg.Admin.ParsedCIDRs) != 2 {
		t.Errorf("expected 2 parsed CIDRs, got %d", len(cfg.Admin.ParsedCIDRs))
	}
	if cfg.TLS.Enabled() {
		t.Error("example config should not enable TLS")
	}
	if cfg.Logging.File != "/var/log/nupload/server.log" {
		t.Errorf("unexpected logging file %q", cfg.Logging.File)
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
staging:
  root: /tmp/staging
janitor:
  enabled: true
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:8080" {
		t.Errorf("expected default listen, got %q", cfg.Server.Listen)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown timeout, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Staging.MaxBatchFiles != 10 {
		t.Errorf("expected default max_batch_files 10, got %d", cfg.Staging.MaxBatchFiles)
	}
	if cfg.Sessions.DBPath != "/tmp/staging/.sessions.db" {
		t.Errorf("unexpected default db_path %q", cfg.Sessions.DBPath)
	}
	if cfg.Janitor.Schedule != "@every 1h" || cfg.Janitor.MaxAge != 24*time.Hour {
		t.Errorf("unexpected janitor defaults %+v", cfg.Janitor)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Admin.EventsMaxLines != 10000 || cfg.Admin.EventsRing != 500 {
		t.Errorf("unexpected admin defaults %+v", cfg.Admin)
	}
	if cfg.Staging.WriteRateLimitRaw != 0 || cfg.Staging.MinFreeBytes != 0 {
		t.Error("optional limits should stay disabled")
	}
}

func TestLoadServerConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing root", "server:\n  listen: :8080\n", "staging.root is required"},
		{"bad chunk size", "staging:\n  root: /s\n  max_chunk_size: lots\n", "max_chunk_size"},
		{"bad percent", "staging:\n  root: /s\n  min_free_space: 120%\n", "min_free_space"},
		{"tls without key", "staging:\n  root: /s\ntls:\n  server_cert: c.pem\n", "server_key"},
		{"client ca without cert", "staging:\n  root: /s\ntls:\n  client_ca: ca.pem\n", "client_ca"},
		{"bad cron", "staging:\n  root: /s\njanitor:\n  enabled: true\n  schedule: \"not a cron\"\n", "janitor.schedule"},
		{"s3 without bucket", "staging:\n  root: /s\npublish:\n  s3:\n    enabled: true\n", "bucket"},
		{"s3 half credentials", "staging:\n  root: /s\npublish:\n  s3:\n    enabled: true\n    bucket: b\n    access_key: x\n", "secret_key"},
		{"s3 small parts", "staging:\n  root: /s\npublish:\n  s3:\n    enabled: true\n    bucket: b\n    part_size: 1MiB\n", "at least 5MiB"},
		{"bad origin", "staging:\n  root: /s\nadmin:\n  allow_origins: [\"not-an-ip\"]\n", "allow_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadServerConfig_MinFreeBytes(t *testing.T) {
	cfg, err := LoadServerConfig(writeConfig(t, "staging:\n  root: /s\n  min_free_space: 2GiB\n  write_rate_limit: 10MiB\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Staging.MinFreeBytes != 2*1024*1024*1024 {
		t.Errorf("expected 2GiB, got %d", cfg.Staging.MinFreeBytes)
	}
	if cfg.Staging.WriteRateLimitRaw != 10*1024*1024 {
		t.Errorf("expected 10MiB/s, got %d", cfg.Staging.WriteRateLimitRaw)
	}
}

func TestLoadServerConfig_S3Defaults(t *testing.T) {
	cfg, err := LoadServerConfig(writeConfig(t, "staging:\n  root: /s\npublish:\n  s3:\n    enabled: true\n    bucket: b\n    prefix: /up/\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s3 := cfg.Publish.S3
	if s3.Region != "us-east-1" || s3.PartSizeRaw != 16*1024*1024 || s3.Concurrency != 4 || s3.Prefix != "up" {
		t.Errorf("unexpected s3 defaults %+v", s3)
	}
}

func TestLoadServerConfig_FileNotFound(t *testing.T) {
	if _, err := LoadServerConfig("/nonexistent/server.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadServerConfig_InvalidYAML(t *testing.T) {
	if _, err := LoadServerConfig(writeConfig(t, "staging: [unclosed")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"64KiB", 64 * 1024},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1kb", 1000},
		{"8mb", 8 * 1000 * 1000},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if err != nil {
			t.Errorf("ParseByteSize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "abc", "12xb"} {
		if _, err := ParseByteSize(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseOrigin(t *testing.T) {
	cidr, err := parseOrigin("192.168.1.10")
	if err != nil {
		t.Fatalf("parseOrigin: %v", err)
	}
	if ones, _ := cidr.Mask.Size(); ones != 32 {
		t.Errorf("expected /32, got /%d", ones)
	}
	cidr, err = parseOrigin("::1")
	if err != nil {
		t.Fatalf("parseOrigin: %v", err)
	}
	if ones, _ := cidr.Mask.Size(); ones != 128 {
		t.Errorf("expected /128, got /%d", ones)
	}
}
