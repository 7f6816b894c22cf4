package testsupport

import (
	"path/filepath"
	"testing"

	"donecast/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config with fast poll intervals and a unique temp
// cache directory per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.API.BaseURL = "http://127.0.0.1:0"
	cfg.API.Token = "test-token"
	cfg.Workflow.TranscriptPollInterval = 1
	cfg.Workflow.JobPollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.DetectionRetryAttempts = 3
	cfg.Workflow.DetectionRetryBackoffMS = 1
	cfg.Cache.Enabled = false
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithCache enables the answer cache backed by the test's temp directory.
func WithCache() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	}
}

// WithBaseURL points the backend client at the given server, usually an
// httptest instance.
func WithBaseURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.API.BaseURL = url
	}
}

// WithNtfyTopic enables notifications against the given endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = topic
	}
}
