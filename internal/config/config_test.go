package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"donecast/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for absent config file")
	}
	if cfg.Workflow.TranscriptPollInterval != 5 {
		t.Fatalf("expected default transcript poll interval 5, got %d", cfg.Workflow.TranscriptPollInterval)
	}
	if cfg.Workflow.DetectionRetryAttempts != 20 {
		t.Fatalf("expected default detection retry attempts 20, got %d", cfg.Workflow.DetectionRetryAttempts)
	}
	if cfg.Workflow.ScheduleMinLeadMinutes != 9 {
		t.Fatalf("expected default schedule lead 9, got %d", cfg.Workflow.ScheduleMinLeadMinutes)
	}
	if got := cfg.ErrorRetry(); got != 10*time.Second {
		t.Fatalf("expected default error retry of 10s, got %s", got)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[api]
base_url = "https://backend.example.com/"
token = "  secret  "

[show]
id = " show-123 "

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s to be found, got %s exists=%v", path, resolved, exists)
	}
	if cfg.API.BaseURL != "https://backend.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.API.BaseURL)
	}
	if cfg.API.Token != "secret" {
		t.Fatalf("expected token trimmed, got %q", cfg.API.Token)
	}
	if cfg.Show.ID != "show-123" {
		t.Fatalf("expected show id trimmed, got %q", cfg.Show.ID)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected lowercased logging values, got %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty base url", func(c *config.Config) { c.API.BaseURL = "" }},
		{"invalid url", func(c *config.Config) { c.API.BaseURL = "://nope" }},
		{"bad scheme", func(c *config.Config) { c.API.BaseURL = "ftp://example.com" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestUploadTimeoutScalesAndClamps(t *testing.T) {
	cfg := config.Default()
	cfg.API.UploadTimeoutBase = 60
	cfg.API.UploadTimeoutPerMB = 4
	cfg.API.UploadTimeoutFloor = 90
	cfg.API.UploadTimeoutCeiling = 600

	tests := []struct {
		name string
		size int64
		want time.Duration
	}{
		{"tiny payload hits floor", 1 << 20, 90 * time.Second},
		{"mid payload scales", 50 << 20, 260 * time.Second},
		{"huge payload hits ceiling", 2000 << 20, 600 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := cfg.UploadTimeout(tc.size); got != tc.want {
				t.Fatalf("UploadTimeout(%d) = %s, want %s", tc.size, got, tc.want)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Workflow.DetectionRetryBackoffMS != 750 {
		t.Fatalf("expected sample backoff 750ms, got %d", cfg.Workflow.DetectionRetryBackoffMS)
	}
}
