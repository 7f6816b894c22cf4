package session

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IntentKind identifies one editorial automation category.
type IntentKind string

const (
	// IntentFlubber covers retake detection ("flubber" markers in the recording).
	IntentFlubber IntentKind = "flubber"
	// IntentIntern covers AI-narrator voice commands spoken to the "intern".
	IntentIntern IntentKind = "intern"
	// IntentSFX covers spoken sound-effect requests.
	IntentSFX IntentKind = "sfx"
)

// AllIntentKinds returns the intent kinds in review order: retake review runs
// strictly before narrator review, sound effects need no review at all.
func AllIntentKinds() []IntentKind {
	return []IntentKind{IntentFlubber, IntentIntern, IntentSFX}
}

// NeedsReview reports whether the kind surfaces a candidate review sub-flow.
func (k IntentKind) NeedsReview() bool {
	return k == IntentFlubber || k == IntentIntern
}

// Resolution is the user's answer for one intent kind.
type Resolution string

const (
	ResolutionUnknown Resolution = "unknown"
	ResolutionYes     Resolution = "yes"
	ResolutionNo      Resolution = "no"
)

// ReviewItem is one candidate edit awaiting accept/reject.
type ReviewItem struct {
	ID           string  `json:"id"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Text         string  `json:"text"`
	AudioURL     string  `json:"audio_url,omitempty"`
}

// IntentState tracks detection and resolution for one intent kind.
type IntentState struct {
	Kind            IntentKind
	DetectedCount   int
	Resolution      Resolution
	PendingReview   []ReviewItem
	AcceptedEdits   []ReviewItem
	DetectionFailed bool
}

// Resolved reports whether the kind no longer blocks dispatch.
func (s *IntentState) Resolved() bool {
	return s != nil && s.Resolution != ResolutionUnknown && len(s.PendingReview) == 0
}

// Transcript is the last-known transcript readiness snapshot.
type Transcript struct {
	Ready bool
	Path  string
}

// QuotaSnapshot is the last-known minutes precheck result. Stale until the
// gate revalidates after a template or audio change.
type QuotaSnapshot struct {
	Valid            bool
	Allowed          bool
	MinutesRequired  float64
	MinutesRemaining float64
	RenewalDate      time.Time
}

// JobStatus is the backend assembly task state.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobProcessed  JobStatus = "processed"
	JobError      JobStatus = "error"
)

// Terminal reports whether polling should stop for this status.
func (s JobStatus) Terminal() bool {
	return s == JobProcessed || s == JobError
}

// Job represents the dispatched backend assembly task.
type Job struct {
	ID           string
	Status       JobStatus
	EpisodeID    string
	ErrorMessage string
}

// PublishMode selects what happens once assembly completes.
type PublishMode string

const (
	PublishNow      PublishMode = "now"
	PublishDraft    PublishMode = "draft"
	PublishSchedule PublishMode = "schedule"
)

// PublishPlan captures the user's publish choice.
type PublishPlan struct {
	Mode        PublishMode
	Visibility  string
	ScheduledAt time.Time
}

// EpisodeDetails holds the user-entered episode metadata.
type EpisodeDetails struct {
	Title       string
	Description string
	CoverPath   string
}

// BuildSession is the aggregate root for one episode-creation attempt.
type BuildSession struct {
	ID   string
	Step Step

	AudioRef string
	// AudioEpoch increments whenever AudioRef changes. Responses stamped with
	// an older epoch are discarded even if they arrive late.
	AudioEpoch uint64

	TemplateID     string
	VoiceOverrides map[string]string

	Intents    map[IntentKind]*IntentState
	Transcript Transcript
	Quota      QuotaSnapshot
	Details    EpisodeDetails
	Plan       PublishPlan

	Job        *Job
	Dispatched bool
	// CompletedPlan is the publish plan captured at the moment assembly
	// completed. Later edits to Plan do not change an already-queued publish.
	CompletedPlan *PublishPlan
	PublishFired  bool
	PublishedID   string

	CreatedAt time.Time
}

// CachedState is the per-audio state restorable when the user re-enters the
// flow with the same audio reference.
type CachedState struct {
	Transcript  Transcript
	Resolutions map[IntentKind]Resolution
	Accepted    map[IntentKind][]ReviewItem
}

func newSession(id string) *BuildSession {
	s := &BuildSession{
		ID:             id,
		Step:           StepTemplateSelect,
		VoiceOverrides: make(map[string]string),
		Intents:        make(map[IntentKind]*IntentState, 3),
		Plan:           PublishPlan{Mode: PublishDraft, Visibility: "public"},
		CreatedAt:      time.Now().UTC(),
	}
	for _, kind := range AllIntentKinds() {
		s.Intents[kind] = &IntentState{Kind: kind, DetectedCount: -1, Resolution: ResolutionUnknown}
	}
	return s
}

// IntentsResolved reports whether every intent kind has a non-unknown
// resolution and no pending review items remain.
func (s *BuildSession) IntentsResolved() bool {
	for _, kind := range AllIntentKinds() {
		if !s.Intents[kind].Resolved() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy suitable for snapshot comparison in tests and for
// handing to rendering code.
func (s *BuildSession) Clone() *BuildSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.VoiceOverrides = make(map[string]string, len(s.VoiceOverrides))
	for k, v := range s.VoiceOverrides {
		cp.VoiceOverrides[k] = v
	}
	cp.Intents = make(map[IntentKind]*IntentState, len(s.Intents))
	for k, v := range s.Intents {
		state := *v
		state.PendingReview = append([]ReviewItem(nil), v.PendingReview...)
		state.AcceptedEdits = append([]ReviewItem(nil), v.AcceptedEdits...)
		cp.Intents[k] = &state
	}
	if s.Job != nil {
		job := *s.Job
		cp.Job = &job
	}
	if s.CompletedPlan != nil {
		plan := *s.CompletedPlan
		cp.CompletedPlan = &plan
	}
	return &cp
}

var titleCaser = cases.Title(language.English)

// NormalizeTitle trims and collapses whitespace. All-lowercase titles are
// title-cased so hastily typed entries render consistently in directories.
func NormalizeTitle(title string) string {
	fields := strings.Fields(title)
	normalized := strings.Join(fields, " ")
	if normalized == "" {
		return ""
	}
	hasUpper := strings.IndexFunc(normalized, unicode.IsUpper) >= 0
	if !hasUpper {
		return titleCaser.String(normalized)
	}
	return normalized
}
