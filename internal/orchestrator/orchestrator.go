package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"donecast/internal/answercache"
	"donecast/internal/config"
	"donecast/internal/logging"
	"donecast/internal/notifications"
	"donecast/internal/services/producer"
	"donecast/internal/session"
)

// Background task names used with the scope. Each name runs at most once.
const (
	taskTranscript = "transcript"
	taskDetection  = "detection"
	taskQuota      = "quota"
	taskJob        = "job"
)

// Backend is the slice of the producer client the orchestrator needs.
// *producer.Client satisfies it; tests substitute a scripted fake.
type Backend interface {
	Upload(ctx context.Context, path string, progress producer.ProgressFunc) (producer.UploadResult, error)
	TranscriptStatus(ctx context.Context, audioRef string) (producer.TranscriptStatus, error)
	DetectIntents(ctx context.Context, audioRef string) (map[session.IntentKind]int, error)
	Candidates(ctx context.Context, audioRef string, kind session.IntentKind) ([]session.ReviewItem, error)
	MinutesPrecheck(ctx context.Context, req producer.PrecheckRequest) (producer.QuotaDecision, error)
	Assemble(ctx context.Context, req producer.AssembleRequest) (producer.AssembleResult, error)
	JobStatus(ctx context.Context, jobID string) (producer.JobState, error)
	Publish(ctx context.Context, req producer.PublishRequest) (producer.PublishResult, error)
}

// ReviewHandler surfaces candidate edits to the user. Review returns the
// accepted subset; confirmed is false when the user abandoned the sub-flow,
// which resolves the kind to the safe default of applying no edits.
type ReviewHandler interface {
	Review(ctx context.Context, kind session.IntentKind, items []session.ReviewItem) (accepted []session.ReviewItem, confirmed bool)
}

// ReviewHandlerFunc adapts a function to the ReviewHandler interface.
type ReviewHandlerFunc func(ctx context.Context, kind session.IntentKind, items []session.ReviewItem) ([]session.ReviewItem, bool)

// Review implements ReviewHandler.
func (f ReviewHandlerFunc) Review(ctx context.Context, kind session.IntentKind, items []session.ReviewItem) ([]session.ReviewItem, bool) {
	return f(ctx, kind, items)
}

// Orchestrator drives one build session against the backend.
type Orchestrator struct {
	cfg      *config.Config
	machine  *session.Machine
	backend  Backend
	notifier notifications.Service
	cache    *answercache.Store
	logger   *slog.Logger
	scope    *Scope
	reviews  ReviewHandler

	// quotaMu orders sequence claims with quota task starts.
	quotaMu sync.Mutex
}

// New constructs an orchestrator around an existing session machine. The
// scope is torn down whenever the machine cancels the session.
func New(ctx context.Context, cfg *config.Config, machine *session.Machine, backend Backend, notifier notifications.Service, cache *answercache.Store, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		machine:  machine,
		backend:  backend,
		notifier: notifier,
		cache:    cache,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		scope:    NewScope(ctx),
	}
	machine.RegisterTeardown(o.scope.StopAll)
	return o
}

// SetReviewHandler installs the handler that drains review sub-flows. Without
// a handler, review-capable kinds with detections resolve to no edits.
func (o *Orchestrator) SetReviewHandler(h ReviewHandler) {
	o.reviews = h
}

// Machine exposes the underlying session machine for rendering and direct
// answers.
func (o *Orchestrator) Machine() *session.Machine {
	return o.machine
}

// SelectTemplate records the segment template and revalidates the quota gate
// when audio is already chosen.
func (o *Orchestrator) SelectTemplate(templateID string) {
	o.machine.SetTemplate(templateID)
	o.maybeStartQuota()
}

// UploadAudio uploads a local audio file and selects the returned reference.
func (o *Orchestrator) UploadAudio(ctx context.Context, path string, progress producer.ProgressFunc) (string, error) {
	result, err := o.backend.Upload(ctx, path, progress)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	o.SelectAudio(ctx, result.Filename)
	return result.Filename, nil
}

// SelectAudio switches the session to the given audio reference. Previously
// answered intents for the same reference are restored from the answer cache;
// otherwise the transcript poller and the detection pipeline start fresh.
// Either way the epoch bump discards late responses for superseded audio.
func (o *Orchestrator) SelectAudio(ctx context.Context, audioRef string) {
	cached, found, err := o.cache.Lookup(ctx, audioRef)
	if err != nil {
		o.logger.Warn("answer cache lookup failed; treating audio as new",
			logging.String(logging.FieldAudioRef, audioRef),
			logging.Error(err))
		found = false
	}

	var epoch uint64
	if found {
		epoch = o.machine.RestoreCached(audioRef, cached)
	} else {
		var changed bool
		epoch, changed = o.machine.SetAudio(audioRef)
		if !changed {
			return
		}
	}

	snapshot := o.machine.Snapshot()
	if !snapshot.Transcript.Ready {
		o.startTranscriptPoller(epoch, audioRef)
	}
	if !snapshot.IntentsResolved() {
		o.startDetection(epoch, audioRef)
	}
	o.maybeStartQuota()
}

// Cancel abandons the session from any step. Background tasks stop through
// the machine's registered teardown.
func (o *Orchestrator) Cancel() {
	o.machine.Cancel()
}

// maybeStartQuota revalidates the minutes gate whenever both inputs that feed
// it are present. The task key ties the run to the template/audio pair so a
// change in either restarts the check. The sequence is claimed here, before
// the task launches, so a superseded task winding down can never claim ahead
// of its successor and strand the gate with a discarded response.
func (o *Orchestrator) maybeStartQuota() {
	snapshot := o.machine.Snapshot()
	if snapshot.TemplateID == "" || snapshot.AudioRef == "" {
		return
	}
	key := snapshot.TemplateID + "|" + snapshot.AudioRef + "|" + strconv.FormatUint(snapshot.AudioEpoch, 10)

	o.quotaMu.Lock()
	defer o.quotaMu.Unlock()
	if current, ok := o.scope.ActiveKey(taskQuota); ok && current == key {
		return
	}
	seq := o.machine.NextQuotaSeq()
	o.scope.Start(taskQuota, key, func(taskCtx context.Context) {
		if _, err := o.precheck(taskCtx, seq, snapshot.TemplateID, snapshot.AudioRef); err != nil {
			o.logger.Warn("minutes precheck failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "quota_precheck_failed"),
				logging.String(logging.FieldErrorHint, "re-run the precheck before assembling"))
		}
	})
}
