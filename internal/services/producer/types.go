package producer

import (
	"time"

	"donecast/internal/session"
)

// UploadResult is the backend's answer to a multipart audio submission.
type UploadResult struct {
	Filename string `json:"filename"`
}

// TranscriptStatus reports transcript readiness for an audio reference.
type TranscriptStatus struct {
	Ready          bool   `json:"ready"`
	TranscriptPath string `json:"transcript_path"`
}

// intentDetectionResponse is the wire shape of the detection endpoint.
type intentDetectionResponse struct {
	Intents map[string]struct {
		Count int `json:"count"`
	} `json:"intents"`
}

// candidatesResponse is the wire shape of the candidate-edit endpoints.
type candidatesResponse struct {
	Candidates []session.ReviewItem `json:"candidates"`
}

// PrecheckRequest asks whether a build fits the remaining minutes allowance.
type PrecheckRequest struct {
	TemplateID string `json:"template_id"`
	AudioRef   string `json:"audio_ref"`
}

// QuotaDecision is the canonical minutes precheck result.
type QuotaDecision struct {
	Allowed          bool
	MinutesRequired  float64
	MinutesRemaining float64
	RenewalDate      time.Time
}

// quotaPayload tolerates both historical 402 shapes: a flat object and a
// nested detail wrapper.
type quotaPayload struct {
	Allowed          *bool         `json:"allowed"`
	MinutesRequired  float64       `json:"minutes_required"`
	MinutesRemaining float64       `json:"minutes_remaining"`
	RenewalDate      string        `json:"renewal_date"`
	Detail           *quotaPayload `json:"detail"`
}

func (p *quotaPayload) flatten() *quotaPayload {
	if p == nil {
		return nil
	}
	if p.Detail != nil && p.Allowed == nil && p.MinutesRequired == 0 && p.MinutesRemaining == 0 {
		return p.Detail
	}
	return p
}

// AssembleRequest submits the episode assembly job.
type AssembleRequest struct {
	TemplateID     string                                      `json:"template_id"`
	AudioRef       string                                      `json:"audio_ref"`
	IdempotencyKey string                                      `json:"idempotency_key"`
	Details        EpisodeDetails                              `json:"episode_details"`
	Overrides      map[session.IntentKind][]session.ReviewItem `json:"accepted_intent_overrides"`
	VoiceOverrides map[string]string                           `json:"voice_overrides,omitempty"`
}

// EpisodeDetails is the wire form of the user-entered episode metadata.
type EpisodeDetails struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CoverPath   string `json:"cover_path,omitempty"`
}

// AssembleResult identifies the created job and the episode it will produce.
type AssembleResult struct {
	JobID     string `json:"job_id"`
	EpisodeID string `json:"episode_id"`
}

// JobState is one job status poll response.
type JobState struct {
	Status  session.JobStatus `json:"status"`
	Episode struct {
		ID string `json:"id"`
	} `json:"episode"`
	Error string `json:"error"`
}

// PublishRequest pushes a processed episode to the downstream host.
type PublishRequest struct {
	ShowID       string     `json:"show_id"`
	EpisodeID    string     `json:"-"`
	PublishState string     `json:"publish_state"`
	PublishAt    *time.Time `json:"publish_at,omitempty"`
}

// PublishResult reports the downstream publish outcome.
type PublishResult struct {
	Message           string `json:"message"`
	SpreakerEpisodeID string `json:"spreaker_episode_id"`
}
