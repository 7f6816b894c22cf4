package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"donecast/internal/logging"
)

// RejectionReason classifies why a transition was refused.
type RejectionReason string

const (
	RejectUnknownStep       RejectionReason = "unknown_step"
	RejectNoTemplate        RejectionReason = "no_template"
	RejectNoAudio           RejectionReason = "no_audio"
	RejectIntentsUnresolved RejectionReason = "intents_unresolved"
	RejectMissingTitle      RejectionReason = "missing_title"
	RejectScheduleTooSoon   RejectionReason = "schedule_too_soon"
	RejectQuotaUnchecked    RejectionReason = "quota_unchecked"
	RejectQuotaBlocked      RejectionReason = "quota_blocked"
	RejectAlreadyDispatched RejectionReason = "already_dispatched"
)

// Rejection is the typed outcome of a refused transition. The session is
// guaranteed unchanged whenever a Rejection is returned.
type Rejection struct {
	Reason RejectionReason
	Detail string
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason RejectionReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Machine is the single writer for a build session. Every mutation happens
// under its lock; concurrent pollers submit results through Apply* methods
// that enforce the stale-write guards.
type Machine struct {
	mu              sync.Mutex
	session         *BuildSession
	logger          *slog.Logger
	minScheduleLead time.Duration
	quotaSeq        uint64
	teardowns       []func()
}

// NewMachine constructs a machine owning a fresh, uninitialized session.
func NewMachine(logger *slog.Logger, minScheduleLead time.Duration) *Machine {
	if minScheduleLead <= 0 {
		minScheduleLead = 9 * time.Minute
	}
	return &Machine{
		session:         newSession(uuid.NewString()),
		logger:          logging.NewComponentLogger(logger, "session"),
		minScheduleLead: minScheduleLead,
	}
}

// SessionID returns the identifier of the current session.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// Snapshot returns a deep copy of the current session state.
func (m *Machine) Snapshot() *BuildSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// RegisterTeardown adds a hook invoked on Cancel. Hooks must be idempotent;
// cancel may run them more than once across a session's lifetime but at most
// once per Cancel call.
func (m *Machine) RegisterTeardown(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.teardowns = append(m.teardowns, fn)
	m.mu.Unlock()
}

// Advance moves the session to the target step after checking the
// preconditions for every step being left. On failure the session is
// unchanged and a typed rejection explains the refusal.
func (m *Machine) Advance(target Step) *Rejection {
	m.mu.Lock()
	defer m.mu.Unlock()

	targetIdx := target.Index()
	if targetIdx < 0 {
		return reject(RejectUnknownStep, "unknown step %q", string(target))
	}
	currentIdx := m.session.Step.Index()
	if targetIdx == currentIdx {
		return nil
	}
	if targetIdx < currentIdx {
		// Backward navigation never needs gate checks.
		m.session.Step = target
		return nil
	}

	for idx := currentIdx; idx < targetIdx; idx++ {
		if rej := m.leavePrecondition(allSteps[idx]); rej != nil {
			return rej
		}
	}
	if target == StepAssembleAndPublish {
		if rej := m.assemblyPrecondition(); rej != nil {
			return rej
		}
	}

	m.logger.Debug("step advanced",
		logging.String("from", string(m.session.Step)),
		logging.String("to", string(target)))
	m.session.Step = target
	return nil
}

// leavePrecondition is evaluated with the lock held and must not mutate.
func (m *Machine) leavePrecondition(step Step) *Rejection {
	s := m.session
	switch step {
	case StepTemplateSelect:
		if s.TemplateID == "" {
			return reject(RejectNoTemplate, "select a segment template first")
		}
	case StepAudioSelect:
		if s.AudioRef == "" {
			return reject(RejectNoAudio, "select or upload source audio first")
		}
		if !s.IntentsResolved() {
			return reject(RejectIntentsUnresolved, "answer the pending flubber/intern/sfx questions first")
		}
	case StepDetailsAndSchedule:
		if s.Details.Title == "" {
			return reject(RejectMissingTitle, "episode title is required")
		}
		if s.Plan.Mode == PublishSchedule {
			lead := time.Until(s.Plan.ScheduledAt)
			if lead < m.minScheduleLead {
				return reject(RejectScheduleTooSoon,
					"scheduled time must be at least %s away", m.minScheduleLead)
			}
		}
	}
	return nil
}

func (m *Machine) assemblyPrecondition() *Rejection {
	switch {
	case !m.session.Quota.Valid:
		return reject(RejectQuotaUnchecked, "minutes precheck has not completed")
	case !m.session.Quota.Allowed:
		return reject(RejectQuotaBlocked,
			"build needs %.0f minutes but only %.0f remain",
			m.session.Quota.MinutesRequired, m.session.Quota.MinutesRemaining)
	}
	return nil
}

// SetTemplate records the selected template and invalidates the quota
// snapshot so the gate revalidates.
func (m *Machine) SetTemplate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.TemplateID == id {
		return
	}
	m.session.TemplateID = id
	m.session.Quota = QuotaSnapshot{}
}

// SetVoiceOverride records a locally-drafted TTS voice override for a segment.
func (m *Machine) SetVoiceOverride(segment, voice string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if voice == "" {
		delete(m.session.VoiceOverrides, segment)
		return
	}
	m.session.VoiceOverrides[segment] = voice
}

// SetAudio switches the source audio reference. Switching invalidates the
// transcript, all intent state, and the quota snapshot, and bumps the audio
// epoch so responses for the superseded reference are discarded. Returns the
// epoch that now identifies the reference and whether anything changed.
func (m *Machine) SetAudio(ref string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.AudioRef == ref {
		return m.session.AudioEpoch, false
	}
	m.session.AudioRef = ref
	m.session.AudioEpoch++
	m.session.Transcript = Transcript{}
	m.session.Quota = QuotaSnapshot{}
	for _, kind := range AllIntentKinds() {
		m.session.Intents[kind] = &IntentState{Kind: kind, DetectedCount: -1, Resolution: ResolutionUnknown}
	}
	m.logger.Info("audio reference changed",
		logging.String(logging.FieldAudioRef, ref),
		logging.Int64("audio_epoch", int64(m.session.AudioEpoch)))
	return m.session.AudioEpoch, true
}

// RestoreCached re-enters the flow with the same audio reference, restoring
// cached transcript state and prior intent answers instead of re-detecting.
func (m *Machine) RestoreCached(ref string, cached CachedState) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.AudioRef != ref {
		m.session.AudioRef = ref
		m.session.AudioEpoch++
		m.session.Quota = QuotaSnapshot{}
	}
	m.session.Transcript = cached.Transcript
	for _, kind := range AllIntentKinds() {
		state := &IntentState{Kind: kind, DetectedCount: -1, Resolution: ResolutionUnknown}
		if res, ok := cached.Resolutions[kind]; ok && res != ResolutionUnknown {
			state.Resolution = res
			state.AcceptedEdits = append([]ReviewItem(nil), cached.Accepted[kind]...)
		}
		m.session.Intents[kind] = state
	}
	m.logger.Info("restored cached session state",
		logging.String(logging.FieldAudioRef, ref))
	return m.session.AudioEpoch
}

// ApplyTranscript records a transcript status response. Returns false when
// the response belongs to a superseded audio reference.
func (m *Machine) ApplyTranscript(epoch uint64, t Transcript) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.session.AudioEpoch {
		return false
	}
	m.session.Transcript = t
	return true
}

// ApplyDetection records detected intent counts. Kinds with zero occurrences
// auto-resolve to no; nothing else changes resolution. Returns false when the
// response belongs to a superseded audio reference.
func (m *Machine) ApplyDetection(epoch uint64, counts map[IntentKind]int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.session.AudioEpoch {
		return false
	}
	for _, kind := range AllIntentKinds() {
		state := m.session.Intents[kind]
		count := counts[kind]
		state.DetectedCount = count
		state.DetectionFailed = false
		if count == 0 && state.Resolution == ResolutionUnknown {
			state.Resolution = ResolutionNo
		}
	}
	return true
}

// MarkDetectionFailed flags detection as exhausted; resolutions fall back to
// manual answers and no longer block on server counts.
func (m *Machine) MarkDetectionFailed(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.session.AudioEpoch {
		return false
	}
	for _, kind := range AllIntentKinds() {
		m.session.Intents[kind].DetectionFailed = true
	}
	return true
}

// SetPendingReview installs the candidate edits awaiting user accept/reject.
func (m *Machine) SetPendingReview(epoch uint64, kind IntentKind, items []ReviewItem) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.session.AudioEpoch {
		return false
	}
	m.session.Intents[kind].PendingReview = append([]ReviewItem(nil), items...)
	return true
}

// ConfirmReview finalizes a review sub-flow: accepted edits become overrides,
// pending items clear, and the kind resolves. A confirmation carrying a
// superseded audio epoch is discarded so edits reviewed against earlier audio
// never attach to the current one.
func (m *Machine) ConfirmReview(epoch uint64, kind IntentKind, accepted []ReviewItem) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.session.AudioEpoch {
		return false
	}
	state := m.session.Intents[kind]
	state.AcceptedEdits = append([]ReviewItem(nil), accepted...)
	state.PendingReview = nil
	if len(accepted) > 0 {
		state.Resolution = ResolutionYes
	} else {
		state.Resolution = ResolutionNo
	}
	return true
}

// CancelReview abandons a review sub-flow; the kind force-resolves to the
// safe default of applying no edits. Superseded epochs are discarded.
func (m *Machine) CancelReview(epoch uint64, kind IntentKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.session.AudioEpoch {
		return false
	}
	state := m.session.Intents[kind]
	state.PendingReview = nil
	state.AcceptedEdits = nil
	state.Resolution = ResolutionNo
	return true
}

// ResolveIntent records a direct user answer for a kind.
func (m *Machine) ResolveIntent(kind IntentKind, res Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Intents[kind].Resolution = res
}

// NextQuotaSeq stamps a fresh precheck request. Only the response carrying
// the most recently issued sequence is applied.
func (m *Machine) NextQuotaSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaSeq++
	return m.quotaSeq
}

// ApplyQuota records a precheck result, discarding out-of-order responses.
func (m *Machine) ApplyQuota(seq uint64, snap QuotaSnapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.quotaSeq {
		return false
	}
	m.session.Quota = snap
	return true
}

// SetDetails records the episode metadata with a normalized title.
func (m *Machine) SetDetails(details EpisodeDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	details.Title = NormalizeTitle(details.Title)
	m.session.Details = details
}

// SetPlan records the publish plan. Has no effect on an already-captured
// completion snapshot.
func (m *Machine) SetPlan(plan PublishPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Plan = plan
}

// BeginDispatch validates dispatch preconditions and claims the single
// dispatcher invocation for this session. Returns an idempotency key on
// success.
func (m *Machine) BeginDispatch() (string, *Rejection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	switch {
	case s.Dispatched || s.Job != nil:
		return "", reject(RejectAlreadyDispatched, "assembly already requested for this session")
	case s.TemplateID == "":
		return "", reject(RejectNoTemplate, "select a segment template first")
	case s.AudioRef == "":
		return "", reject(RejectNoAudio, "select or upload source audio first")
	case s.Details.Title == "":
		return "", reject(RejectMissingTitle, "episode title is required")
	case !s.IntentsResolved():
		return "", reject(RejectIntentsUnresolved, "resolve all intents before assembling")
	case !s.Quota.Valid:
		return "", reject(RejectQuotaUnchecked, "minutes precheck has not completed")
	case !s.Quota.Allowed:
		return "", reject(RejectQuotaBlocked,
			"build needs %.0f minutes but only %.0f remain",
			s.Quota.MinutesRequired, s.Quota.MinutesRemaining)
	}
	s.Dispatched = true
	return uuid.NewString(), nil
}

// DispatchSucceeded stores the created job.
func (m *Machine) DispatchSucceeded(job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job
	m.session.Job = &j
}

// DispatchFailed releases the dispatch claim and returns the session to the
// last pre-dispatch step without clearing any entered data. No job is
// considered created.
func (m *Machine) DispatchFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Dispatched = false
	m.session.Job = nil
	m.session.Step = StepDetailsAndSchedule
}

// UpdateJobStatus records an intermediate (non-terminal) job status tick.
func (m *Machine) UpdateJobStatus(jobID string, status JobStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.session.Job
	if job == nil || job.ID != jobID || job.Status.Terminal() {
		return false
	}
	job.Status = status
	return true
}

// CompleteJob finalizes a processed job. The reported episode identifier must
// match the session's expectation; on mismatch nothing changes and the caller
// should re-poll. The publish plan is captured at this moment.
func (m *Machine) CompleteJob(jobID, reportedEpisode string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.session.Job
	if job == nil || job.ID != jobID || job.Status.Terminal() {
		return false
	}
	if job.EpisodeID != "" && reportedEpisode != job.EpisodeID {
		m.logger.Warn("job completion reported mismatched episode",
			logging.String(logging.FieldJobID, jobID),
			logging.String("expected_episode", job.EpisodeID),
			logging.String("reported_episode", reportedEpisode),
			logging.String(logging.FieldEventType, "job_episode_mismatch"))
		return false
	}
	job.Status = JobProcessed
	job.EpisodeID = reportedEpisode
	plan := m.session.Plan
	m.session.CompletedPlan = &plan
	return true
}

// FailJob records a terminal job error. Polling must not restart afterwards.
func (m *Machine) FailJob(jobID, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.session.Job
	if job == nil || job.ID != jobID || job.Status.Terminal() {
		return false
	}
	job.Status = JobError
	job.ErrorMessage = message
	return true
}

// ClaimPublish consumes the once-per-job publish claim. Both the local fired
// flag and the server-reported publish identifier guard the claim; either one
// blocks a second fire.
func (m *Machine) ClaimPublish(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.session.Job
	if job == nil || job.ID != jobID || job.Status != JobProcessed {
		return false
	}
	if m.session.PublishFired || m.session.PublishedID != "" {
		return false
	}
	m.session.PublishFired = true
	return true
}

// SetPublishedID records the downstream publish identifier reported by the
// backend.
func (m *Machine) SetPublishedID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.PublishedID = id
}

// Cancel tears down all registered pollers and resets the session to
// uninitialized. Safe to call from any step, re-entrantly, and on an
// already-cancelled session.
func (m *Machine) Cancel() {
	m.mu.Lock()
	hooks := append([]func(){}, m.teardowns...)
	pristine := m.session.TemplateID == "" &&
		m.session.AudioRef == "" &&
		m.session.Job == nil &&
		m.session.Step == StepTemplateSelect
	if !pristine {
		m.session = newSession(uuid.NewString())
		m.quotaSeq++
	}
	m.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	if !pristine {
		m.logger.Info("session cancelled")
	}
}
