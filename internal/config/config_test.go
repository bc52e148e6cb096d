package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Downloads.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Downloads.MaxConcurrent)
	}
	if cfg.Downloads.MaxSegments != 8 {
		t.Errorf("MaxSegments = %d, want 8", cfg.Downloads.MaxSegments)
	}
	if cfg.Downloads.MinSegmentSize != 1024*1024 {
		t.Errorf("MinSegmentSize = %d, want 1MiB", cfg.Downloads.MinSegmentSize)
	}
	if got := cfg.Downloads.GetTimeout(); got != 30*time.Second {
		t.Errorf("GetTimeout() = %v, want 30s", got)
	}
	if got := cfg.Downloads.GetRetryDelay(); got != time.Second {
		t.Errorf("GetRetryDelay() = %v, want 1s", got)
	}
	if got := cfg.Maintenance.GetAutosaveInterval(); got != 5*time.Second {
		t.Errorf("GetAutosaveInterval() = %v, want 5s", got)
	}
	if cfg.Downloads.Dir == "" || cfg.Database.Path == "" {
		t.Errorf("derived paths not set: dir=%q db=%q", cfg.Downloads.Dir, cfg.Database.Path)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
downloads:
  dir: /data/downloads
  max_concurrent: 5
  bandwidth_limit: 1048576
  retry_delay: 250ms
logging:
  level: debug
  format: text
`)
	t.Setenv("SEGFETCH_DOWNLOADS_MAX_SEGMENTS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Downloads.Dir != "/data/downloads" {
		t.Errorf("Dir = %q", cfg.Downloads.Dir)
	}
	if cfg.Downloads.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", cfg.Downloads.MaxConcurrent)
	}
	if cfg.Downloads.MaxSegments != 4 {
		t.Errorf("MaxSegments = %d, want 4 from env", cfg.Downloads.MaxSegments)
	}
	if cfg.Downloads.BandwidthLimit != 1048576 {
		t.Errorf("BandwidthLimit = %d", cfg.Downloads.BandwidthLimit)
	}
	if got := cfg.Downloads.GetRetryDelay(); got != 250*time.Millisecond {
		t.Errorf("GetRetryDelay() = %v, want 250ms", got)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "zero concurrency", body: "downloads:\n  max_concurrent: 0\n", wantErr: "max_concurrent"},
		{name: "too many segments", body: "downloads:\n  max_segments: 100\n", wantErr: "max_segments"},
		{name: "tiny segments", body: "downloads:\n  min_segment_size: 1024\n", wantErr: "min_segment_size"},
		{name: "negative limit", body: "downloads:\n  bandwidth_limit: -1\n", wantErr: "bandwidth_limit"},
		{name: "bad duration", body: "downloads:\n  timeout: soon\n", wantErr: "downloads.timeout"},
		{name: "bad level", body: "logging:\n  level: loud\n", wantErr: "logging.level"},
		{name: "bad format", body: "logging:\n  format: xml\n", wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}
