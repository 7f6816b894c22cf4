package config

const (
	defaultBaseURL                 = "https://api.donecast.app"
	defaultRequestTimeout          = 30
	defaultUploadTimeoutBase       = 60
	defaultUploadTimeoutPerMB      = 4
	defaultUploadTimeoutFloor      = 90
	defaultUploadTimeoutCeiling    = 1800
	defaultTranscriptPollInterval  = 5
	defaultJobPollInterval         = 5
	defaultDetectionRetryAttempts  = 20
	defaultDetectionRetryBackoffMS = 750
	defaultScheduleMinLeadMinutes  = 9
	defaultErrorRetryInterval      = 10
	defaultCacheDir                = "~/.cache/donecast"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:              defaultBaseURL,
			RequestTimeout:       defaultRequestTimeout,
			UploadTimeoutBase:    defaultUploadTimeoutBase,
			UploadTimeoutPerMB:   defaultUploadTimeoutPerMB,
			UploadTimeoutFloor:   defaultUploadTimeoutFloor,
			UploadTimeoutCeiling: defaultUploadTimeoutCeiling,
		},
		Workflow: Workflow{
			TranscriptPollInterval:  defaultTranscriptPollInterval,
			JobPollInterval:         defaultJobPollInterval,
			DetectionRetryAttempts:  defaultDetectionRetryAttempts,
			DetectionRetryBackoffMS: defaultDetectionRetryBackoffMS,
			ScheduleMinLeadMinutes:  defaultScheduleMinLeadMinutes,
			ErrorRetryInterval:      defaultErrorRetryInterval,
		},
		Cache: Cache{
			Enabled: true,
			Dir:     defaultCacheDir,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			BuildCompleted: true,
			BuildFailed:    true,
			Published:      true,
			QuotaBlocked:   true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
