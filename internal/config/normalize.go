package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeAPI(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.Show.ID = strings.TrimSpace(c.Show.ID)
	return nil
}

func (c *Config) normalizeAPI() error {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.RequestTimeout <= 0 {
		c.API.RequestTimeout = defaultRequestTimeout
	}
	if c.API.UploadTimeoutBase <= 0 {
		c.API.UploadTimeoutBase = defaultUploadTimeoutBase
	}
	if c.API.UploadTimeoutPerMB < 0 {
		c.API.UploadTimeoutPerMB = defaultUploadTimeoutPerMB
	}
	if c.API.UploadTimeoutFloor <= 0 {
		c.API.UploadTimeoutFloor = defaultUploadTimeoutFloor
	}
	if c.API.UploadTimeoutCeiling < 0 {
		c.API.UploadTimeoutCeiling = defaultUploadTimeoutCeiling
	}
	if c.API.UploadTimeoutCeiling > 0 && c.API.UploadTimeoutCeiling < c.API.UploadTimeoutFloor {
		return fmt.Errorf("api.upload_timeout_ceiling: must be at least the floor (%d)", c.API.UploadTimeoutFloor)
	}
	return nil
}

func (c *Config) normalizeCache() error {
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = defaultCacheDir
	}
	var err error
	if c.Cache.Dir, err = expandPath(c.Cache.Dir); err != nil {
		return fmt.Errorf("cache.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.TranscriptPollInterval <= 0 {
		c.Workflow.TranscriptPollInterval = defaultTranscriptPollInterval
	}
	if c.Workflow.JobPollInterval <= 0 {
		c.Workflow.JobPollInterval = defaultJobPollInterval
	}
	if c.Workflow.DetectionRetryAttempts <= 0 {
		c.Workflow.DetectionRetryAttempts = defaultDetectionRetryAttempts
	}
	if c.Workflow.DetectionRetryBackoffMS <= 0 {
		c.Workflow.DetectionRetryBackoffMS = defaultDetectionRetryBackoffMS
	}
	if c.Workflow.ScheduleMinLeadMinutes <= 0 {
		c.Workflow.ScheduleMinLeadMinutes = defaultScheduleMinLeadMinutes
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
