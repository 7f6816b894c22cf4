package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// API contains connection settings for the production backend.
type API struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
	// Upload timeouts scale with payload size: base seconds plus an increment
	// per megabyte, clamped between floor and ceiling.
	UploadTimeoutBase    int `toml:"upload_timeout_base"`
	UploadTimeoutPerMB   int `toml:"upload_timeout_per_mb"`
	UploadTimeoutFloor   int `toml:"upload_timeout_floor"`
	UploadTimeoutCeiling int `toml:"upload_timeout_ceiling"`
}

// Show identifies the podcast the build publishes into.
type Show struct {
	ID string `toml:"id"`
}

// Workflow contains poll intervals and retry budgets for the build pipeline.
type Workflow struct {
	TranscriptPollInterval  int `toml:"transcript_poll_interval"`
	JobPollInterval         int `toml:"job_poll_interval"`
	DetectionRetryAttempts  int `toml:"detection_retry_attempts"`
	DetectionRetryBackoffMS int `toml:"detection_retry_backoff_ms"`
	ScheduleMinLeadMinutes  int `toml:"schedule_min_lead_minutes"`
	ErrorRetryInterval      int `toml:"error_retry_interval"`
}

// Cache contains configuration for the per-audio intent answer cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BuildCompleted bool   `toml:"build_completed"`
	BuildFailed    bool   `toml:"build_failed"`
	Published      bool   `toml:"published"`
	QuotaBlocked   bool   `toml:"quota_blocked"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the build orchestrator.
//
// Sections by subsystem:
//   - API: backend connection and size-proportional upload timeouts
//   - Show: target podcast identifier for publishing
//   - Workflow: poll intervals, detection retry budget, schedule lead time
//   - Cache: per-audio answer cache location
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	API           API           `toml:"api"`
	Show          Show          `toml:"show"`
	Workflow      Workflow      `toml:"workflow"`
	Cache         Cache         `toml:"cache"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/donecast/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("donecast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for workflow operation.
func (c *Config) EnsureDirectories() error {
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Dir) != "" {
		if err := os.MkdirAll(c.Cache.Dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", c.Cache.Dir, err)
		}
	}
	return nil
}

// TranscriptPoll returns the transcript readiness poll interval.
func (c *Config) TranscriptPoll() time.Duration {
	return time.Duration(c.Workflow.TranscriptPollInterval) * time.Second
}

// JobPoll returns the assembly job poll interval.
func (c *Config) JobPoll() time.Duration {
	return time.Duration(c.Workflow.JobPollInterval) * time.Second
}

// ErrorRetry returns the delay pollers wait after a failed tick before the
// next attempt.
func (c *Config) ErrorRetry() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// DetectionBackoff returns the spacing between intent detection attempts.
func (c *Config) DetectionBackoff() time.Duration {
	return time.Duration(c.Workflow.DetectionRetryBackoffMS) * time.Millisecond
}

// ScheduleMinLead returns the minimum lead time a scheduled publish must keep.
func (c *Config) ScheduleMinLead() time.Duration {
	return time.Duration(c.Workflow.ScheduleMinLeadMinutes) * time.Minute
}

// UploadTimeout computes the size-proportional timeout for an upload of the
// given byte size.
func (c *Config) UploadTimeout(sizeBytes int64) time.Duration {
	mb := sizeBytes / (1 << 20)
	seconds := c.API.UploadTimeoutBase + int(mb)*c.API.UploadTimeoutPerMB
	if seconds < c.API.UploadTimeoutFloor {
		seconds = c.API.UploadTimeoutFloor
	}
	if c.API.UploadTimeoutCeiling > 0 && seconds > c.API.UploadTimeoutCeiling {
		seconds = c.API.UploadTimeoutCeiling
	}
	return time.Duration(seconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
