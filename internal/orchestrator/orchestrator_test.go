package orchestrator_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"donecast/internal/answercache"
	"donecast/internal/logging"
	"donecast/internal/orchestrator"
	"donecast/internal/services"
	"donecast/internal/services/producer"
	"donecast/internal/session"
	"donecast/internal/testsupport"
)

type fakeBackend struct {
	mu sync.Mutex

	transcript    producer.TranscriptStatus
	transcriptErr error

	detectCounts map[session.IntentKind]int
	detectErr    error
	detectCalls  int

	candidates     map[session.IntentKind][]session.ReviewItem
	candidateCalls []session.IntentKind

	precheck     producer.QuotaDecision
	precheckErr  error
	precheckHook func(req producer.PrecheckRequest) (producer.QuotaDecision, error)

	assembleResult producer.AssembleResult
	assembleErr    error
	lastAssemble   producer.AssembleRequest

	jobStates []producer.JobState
	jobIndex  int

	publishResult producer.PublishResult
	publishErr    error
	publishCalls  int
	lastPublish   producer.PublishRequest
}

func (f *fakeBackend) Upload(ctx context.Context, path string, progress producer.ProgressFunc) (producer.UploadResult, error) {
	return producer.UploadResult{Filename: "uploaded.wav"}, nil
}

func (f *fakeBackend) TranscriptStatus(ctx context.Context, audioRef string) (producer.TranscriptStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript, f.transcriptErr
}

func (f *fakeBackend) DetectIntents(ctx context.Context, audioRef string) (map[session.IntentKind]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectCalls++
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	counts := make(map[session.IntentKind]int, len(f.detectCounts))
	for kind, count := range f.detectCounts {
		counts[kind] = count
	}
	return counts, nil
}

func (f *fakeBackend) Candidates(ctx context.Context, audioRef string, kind session.IntentKind) ([]session.ReviewItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidateCalls = append(f.candidateCalls, kind)
	return f.candidates[kind], nil
}

func (f *fakeBackend) MinutesPrecheck(ctx context.Context, req producer.PrecheckRequest) (producer.QuotaDecision, error) {
	f.mu.Lock()
	hook := f.precheckHook
	if hook == nil {
		defer f.mu.Unlock()
		if f.precheckErr != nil {
			return producer.QuotaDecision{}, f.precheckErr
		}
		return f.precheck, nil
	}
	f.mu.Unlock()
	return hook(req)
}

func (f *fakeBackend) Assemble(ctx context.Context, req producer.AssembleRequest) (producer.AssembleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAssemble = req
	if f.assembleErr != nil {
		return producer.AssembleResult{}, f.assembleErr
	}
	return f.assembleResult, nil
}

func (f *fakeBackend) JobStatus(ctx context.Context, jobID string) (producer.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobStates) == 0 {
		return producer.JobState{Status: session.JobQueued}, nil
	}
	state := f.jobStates[f.jobIndex]
	if f.jobIndex < len(f.jobStates)-1 {
		f.jobIndex++
	}
	return state, nil
}

func (f *fakeBackend) Publish(ctx context.Context, req producer.PublishRequest) (producer.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	f.lastPublish = req
	if f.publishErr != nil {
		return producer.PublishResult{}, f.publishErr
	}
	return f.publishResult, nil
}

func (f *fakeBackend) candidateOrder() []session.IntentKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.IntentKind(nil), f.candidateCalls...)
}

func (f *fakeBackend) publishes() (int, producer.PublishRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publishCalls, f.lastPublish
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed int
	failed    int
	published int
	quota     int
}

func (n *recordingNotifier) NotifyBuildCompleted(context.Context, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
	return nil
}

func (n *recordingNotifier) NotifyBuildFailed(context.Context, string, error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
	return nil
}

func (n *recordingNotifier) NotifyPublished(context.Context, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published++
	return nil
}

func (n *recordingNotifier) NotifyQuotaBlocked(context.Context, float64, float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.quota++
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func (n *recordingNotifier) counts() (completed, failed, published, quota int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completed, n.failed, n.published, n.quota
}

type testHarness struct {
	orch     *orchestrator.Orchestrator
	machine  *session.Machine
	backend  *fakeBackend
	notifier *recordingNotifier
	cache    *answercache.Store
}

func newHarness(t *testing.T, backend *fakeBackend, cacheEnabled bool) *testHarness {
	t.Helper()
	var opts []testsupport.ConfigOption
	if cacheEnabled {
		opts = append(opts, testsupport.WithCache())
	}
	cfg := testsupport.NewConfig(t, opts...)

	cache, err := answercache.Open(cfg, nil)
	if err != nil {
		t.Fatalf("open answer cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	machine := session.NewMachine(logging.NewNop(), cfg.ScheduleMinLead())
	notifier := &recordingNotifier{}
	orch := orchestrator.New(context.Background(), cfg, machine, backend, notifier, cache, logging.NewNop())
	t.Cleanup(orch.Cancel)

	return &testHarness{orch: orch, machine: machine, backend: backend, notifier: notifier, cache: cache}
}

func waitFor(t *testing.T, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func resolveAllIntents(machine *session.Machine) {
	for _, kind := range session.AllIntentKinds() {
		machine.ResolveIntent(kind, session.ResolutionNo)
	}
}

// prepareDispatchable fills the machine with a fully resolved session that
// passes every dispatch precondition except the quota snapshot, which the
// precheck establishes.
func prepareDispatchable(t *testing.T, h *testHarness) {
	t.Helper()
	h.machine.SetTemplate("tpl-interview")
	h.machine.SetAudio("episode-12.wav")
	resolveAllIntents(h.machine)
	h.machine.SetDetails(session.EpisodeDetails{Title: "Episode Twelve"})
	h.machine.SetPlan(session.PublishPlan{Mode: session.PublishNow, Visibility: "public"})
	if _, err := h.orch.RunPrecheck(context.Background()); err != nil {
		t.Fatalf("RunPrecheck: %v", err)
	}
}

func TestSelectAudioAppliesTranscriptWhenReady(t *testing.T) {
	backend := &fakeBackend{
		transcript:   producer.TranscriptStatus{Ready: true, TranscriptPath: "/t/episode.json"},
		detectCounts: map[session.IntentKind]int{},
	}
	h := newHarness(t, backend, false)

	h.orch.SelectAudio(context.Background(), "episode-12.wav")

	waitFor(t, func() bool {
		return h.machine.Snapshot().Transcript.Ready
	}, "transcript never became ready")
	snap := h.machine.Snapshot()
	if snap.Transcript.Path != "/t/episode.json" {
		t.Fatalf("unexpected transcript path %q", snap.Transcript.Path)
	}
}

func TestTranscriptPollerRetriesAfterErrorTick(t *testing.T) {
	backend := &fakeBackend{
		transcriptErr: services.Wrap(services.ErrTransient, "producer", "transcript status", "connection reset", nil),
		detectCounts:  map[session.IntentKind]int{},
	}
	h := newHarness(t, backend, false)

	h.orch.SelectAudio(context.Background(), "episode-12.wav")

	// The backend recovers after the first failed tick.
	backend.mu.Lock()
	backend.transcriptErr = nil
	backend.transcript = producer.TranscriptStatus{Ready: true, TranscriptPath: "/t/episode.json"}
	backend.mu.Unlock()

	waitFor(t, func() bool {
		return h.machine.Snapshot().Transcript.Ready
	}, "poller never recovered from the failed tick")
}

func TestZeroCountsAutoResolveWithoutCandidateFetch(t *testing.T) {
	backend := &fakeBackend{
		transcript:   producer.TranscriptStatus{Ready: true},
		detectCounts: map[session.IntentKind]int{},
	}
	h := newHarness(t, backend, false)

	h.orch.SelectAudio(context.Background(), "episode-12.wav")

	waitFor(t, func() bool {
		return h.machine.Snapshot().IntentsResolved()
	}, "intents never resolved")

	snap := h.machine.Snapshot()
	for _, kind := range session.AllIntentKinds() {
		if snap.Intents[kind].Resolution != session.ResolutionNo {
			t.Fatalf("%s should auto-resolve to no, got %s", kind, snap.Intents[kind].Resolution)
		}
	}
	if calls := backend.candidateOrder(); len(calls) != 0 {
		t.Fatalf("zero-count kinds must not fetch candidates, got %v", calls)
	}
}

func TestDetectionExhaustionFallsBackToManual(t *testing.T) {
	backend := &fakeBackend{
		transcript: producer.TranscriptStatus{Ready: true},
		detectErr:  services.Wrap(services.ErrNotReady, "producer", "intent detection", "transcript incomplete", nil),
	}
	h := newHarness(t, backend, false)

	h.orch.SelectAudio(context.Background(), "episode-12.wav")

	waitFor(t, func() bool {
		return h.machine.Snapshot().Intents[session.IntentFlubber].DetectionFailed
	}, "detection failure never recorded")

	backend.mu.Lock()
	calls := backend.detectCalls
	backend.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected detection to consume the full retry budget of 3, got %d", calls)
	}

	// Manual answers still unblock the session.
	resolveAllIntents(h.machine)
	if !h.machine.Snapshot().IntentsResolved() {
		t.Fatal("manual answers should resolve intents after detection failure")
	}
}

func TestReviewQueueOrderAndOutcomes(t *testing.T) {
	backend := &fakeBackend{
		transcript: producer.TranscriptStatus{Ready: true},
		detectCounts: map[session.IntentKind]int{
			session.IntentFlubber: 2,
			session.IntentIntern:  1,
			session.IntentSFX:     3,
		},
		candidates: map[session.IntentKind][]session.ReviewItem{
			session.IntentFlubber: {
				{ID: "cut-1", StartSeconds: 10, EndSeconds: 14, Text: "take two"},
				{ID: "cut-2", StartSeconds: 90, EndSeconds: 93, Text: "again"},
			},
			session.IntentIntern: {
				{ID: "vo-1", StartSeconds: 120, EndSeconds: 125, Text: "read the sponsor"},
			},
		},
	}
	h := newHarness(t, backend, false)

	var reviewed []session.IntentKind
	var reviewedMu sync.Mutex
	h.orch.SetReviewHandler(orchestrator.ReviewHandlerFunc(
		func(ctx context.Context, kind session.IntentKind, items []session.ReviewItem) ([]session.ReviewItem, bool) {
			reviewedMu.Lock()
			reviewed = append(reviewed, kind)
			reviewedMu.Unlock()
			if kind == session.IntentFlubber {
				return items[:1], true
			}
			return nil, true
		}))

	h.orch.SelectAudio(context.Background(), "episode-12.wav")

	waitFor(t, func() bool {
		return h.machine.Snapshot().IntentsResolved()
	}, "review queue never drained")

	reviewedMu.Lock()
	order := append([]session.IntentKind(nil), reviewed...)
	reviewedMu.Unlock()
	if len(order) != 2 || order[0] != session.IntentFlubber || order[1] != session.IntentIntern {
		t.Fatalf("retake review must run before narrator review, got %v", order)
	}

	snap := h.machine.Snapshot()
	if snap.Intents[session.IntentFlubber].Resolution != session.ResolutionYes {
		t.Fatal("accepted retake edits should resolve flubber to yes")
	}
	if got := snap.Intents[session.IntentFlubber].AcceptedEdits; len(got) != 1 || got[0].ID != "cut-1" {
		t.Fatalf("unexpected accepted edits: %+v", got)
	}
	if snap.Intents[session.IntentIntern].Resolution != session.ResolutionNo {
		t.Fatal("empty confirmation should resolve intern to no")
	}
	if snap.Intents[session.IntentSFX].Resolution != session.ResolutionYes {
		t.Fatal("detected sound effects should auto-resolve to yes without review")
	}
}

func TestReviewConfirmedAfterAudioSwitchIsDiscarded(t *testing.T) {
	backend := &fakeBackend{
		transcript:   producer.TranscriptStatus{Ready: true},
		detectCounts: map[session.IntentKind]int{session.IntentFlubber: 1},
		candidates: map[session.IntentKind][]session.ReviewItem{
			session.IntentFlubber: {
				{ID: "old-audio-cut", StartSeconds: 10, EndSeconds: 14, Text: "from the first recording"},
			},
		},
	}
	h := newHarness(t, backend, false)

	reviewStarted := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	h.orch.SetReviewHandler(orchestrator.ReviewHandlerFunc(
		func(ctx context.Context, kind session.IntentKind, items []session.ReviewItem) ([]session.ReviewItem, bool) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(reviewStarted)
				<-release
				return items, true
			}
			return nil, false
		}))

	h.orch.SelectAudio(context.Background(), "audio-a.wav")
	select {
	case <-reviewStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("review never started")
	}

	// The user switches audio while the first review is still waiting on
	// input, then the stale prompt is answered.
	h.orch.SelectAudio(context.Background(), "audio-b.wav")
	close(release)

	waitFor(t, func() bool {
		return h.machine.Snapshot().Intents[session.IntentFlubber].Resolution == session.ResolutionNo
	}, "new audio's review never settled")
	time.Sleep(100 * time.Millisecond)

	state := h.machine.Snapshot().Intents[session.IntentFlubber]
	if state.Resolution == session.ResolutionYes {
		t.Fatal("stale confirmation resolved the new audio's intent")
	}
	if len(state.AcceptedEdits) != 0 {
		t.Fatalf("edits reviewed against the old audio leaked into the new session: %+v", state.AcceptedEdits)
	}
}

func TestPrecheckBlockedRecordsQuotaAndNotifies(t *testing.T) {
	backend := &fakeBackend{
		precheckErr: &services.QuotaError{MinutesRequired: 45, MinutesRemaining: 10},
	}
	h := newHarness(t, backend, false)
	h.machine.SetTemplate("tpl-interview")
	h.machine.SetAudio("episode-12.wav")
	resolveAllIntents(h.machine)
	h.machine.SetDetails(session.EpisodeDetails{Title: "Episode Twelve"})

	snap, err := h.orch.RunPrecheck(context.Background())
	if err != nil {
		t.Fatalf("a 402 must be a blocked outcome, not an error: %v", err)
	}
	if !snap.Valid || snap.Allowed {
		t.Fatalf("expected valid blocked snapshot, got %+v", snap)
	}
	if snap.MinutesRequired != 45 || snap.MinutesRemaining != 10 {
		t.Fatalf("quota detail not carried through: %+v", snap)
	}
	if _, _, _, quota := h.notifier.counts(); quota != 1 {
		t.Fatalf("expected one quota notification, got %d", quota)
	}
	if rej := h.machine.Advance(session.StepAssembleAndPublish); rej == nil || rej.Reason != session.RejectQuotaBlocked {
		t.Fatalf("blocked quota should gate the final step, got %v", rej)
	}
}

func TestQuotaGateAppliesLatestResponseWhenSupersededCheckLags(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	backend := &fakeBackend{
		transcript:   producer.TranscriptStatus{Ready: true},
		detectCounts: map[session.IntentKind]int{},
	}
	backend.precheckHook = func(req producer.PrecheckRequest) (producer.QuotaDecision, error) {
		if req.AudioRef == "audio-a.wav" {
			close(firstStarted)
			<-releaseFirst
			return producer.QuotaDecision{Allowed: true, MinutesRemaining: 111}, nil
		}
		return producer.QuotaDecision{Allowed: true, MinutesRemaining: 42}, nil
	}
	h := newHarness(t, backend, false)

	h.orch.SelectTemplate("tpl-interview")
	h.orch.SelectAudio(context.Background(), "audio-a.wav")
	select {
	case <-firstStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("first precheck never started")
	}

	// Re-arming with unchanged inputs must not strand the in-flight check.
	h.orch.SelectTemplate("tpl-interview")

	// Switching audio supersedes the stalled check; the new check's response
	// must win even though the old one completes later.
	h.orch.SelectAudio(context.Background(), "audio-b.wav")
	waitFor(t, func() bool {
		quota := h.machine.Snapshot().Quota
		return quota.Valid && quota.MinutesRemaining == 42
	}, "latest precheck response never recorded")

	close(releaseFirst)
	time.Sleep(100 * time.Millisecond)

	quota := h.machine.Snapshot().Quota
	if !quota.Valid || quota.MinutesRemaining != 42 {
		t.Fatalf("superseded precheck response eclipsed the latest one: %+v", quota)
	}
}

func TestDispatchPublishesExactlyOnce(t *testing.T) {
	backend := &fakeBackend{
		precheck:       producer.QuotaDecision{Allowed: true, MinutesRequired: 12, MinutesRemaining: 80},
		assembleResult: producer.AssembleResult{JobID: "job-1", EpisodeID: "ep-1"},
		jobStates: []producer.JobState{
			{Status: session.JobProcessing},
			{Status: session.JobProcessed, Episode: struct {
				ID string `json:"id"`
			}{ID: "ep-1"}},
		},
		publishResult: producer.PublishResult{Message: "ok", SpreakerEpisodeID: "sp-9"},
	}
	h := newHarness(t, backend, true)
	prepareDispatchable(t, h)

	rej, err := h.orch.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}

	waitFor(t, func() bool {
		return h.machine.Snapshot().PublishedID == "sp-9"
	}, "episode never published")

	calls, req := backend.publishes()
	if calls != 1 {
		t.Fatalf("expected exactly one publish call, got %d", calls)
	}
	if req.PublishState != "published" || req.PublishAt != nil {
		t.Fatalf("publish-now should send published with no publish_at: %+v", req)
	}
	if req.EpisodeID != "ep-1" {
		t.Fatalf("publish targeted wrong episode %q", req.EpisodeID)
	}

	completed, failed, published, _ := h.notifier.counts()
	if completed != 1 || failed != 0 || published != 1 {
		t.Fatalf("unexpected notifications completed=%d failed=%d published=%d", completed, failed, published)
	}

	backend.mu.Lock()
	key := backend.lastAssemble.IdempotencyKey
	backend.mu.Unlock()
	if key == "" {
		t.Fatal("assembly must carry an idempotency key")
	}

	// Resolved answers are cached for same-audio re-entry.
	if _, found, err := h.cache.Lookup(context.Background(), "episode-12.wav"); err != nil || !found {
		t.Fatalf("expected cached answers after dispatch, found=%v err=%v", found, err)
	}

	// A second dispatch for the same session must be rejected.
	rej, err = h.orch.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if rej == nil || rej.Reason != session.RejectAlreadyDispatched {
		t.Fatalf("expected already-dispatched rejection, got %v", rej)
	}
}

func TestDispatchQuotaExhaustedAtSubmitReleasesClaim(t *testing.T) {
	backend := &fakeBackend{
		precheck:    producer.QuotaDecision{Allowed: true},
		assembleErr: &services.QuotaError{MinutesRequired: 30, MinutesRemaining: 5},
	}
	h := newHarness(t, backend, false)
	prepareDispatchable(t, h)

	rej, err := h.orch.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rej == nil || rej.Reason != session.RejectQuotaBlocked {
		t.Fatalf("expected quota-blocked rejection, got %v", rej)
	}

	snap := h.machine.Snapshot()
	if snap.Dispatched || snap.Job != nil {
		t.Fatal("failed dispatch must release the claim")
	}
	if snap.Step != session.StepDetailsAndSchedule {
		t.Fatalf("failed dispatch should return to the details step, got %s", snap.Step)
	}
	if snap.Details.Title != "Episode Twelve" {
		t.Fatal("entered data must survive a failed dispatch")
	}
	if snap.Quota.Allowed || !snap.Quota.Valid {
		t.Fatalf("submit-time 402 should record a blocked snapshot: %+v", snap.Quota)
	}
}

func TestJobErrorIsTerminal(t *testing.T) {
	backend := &fakeBackend{
		precheck:       producer.QuotaDecision{Allowed: true},
		assembleResult: producer.AssembleResult{JobID: "job-1", EpisodeID: "ep-1"},
		jobStates: []producer.JobState{
			{Status: session.JobError, Error: "mixdown failed"},
		},
	}
	h := newHarness(t, backend, false)
	prepareDispatchable(t, h)

	if rej, err := h.orch.Dispatch(context.Background()); rej != nil || err != nil {
		t.Fatalf("Dispatch: rej=%v err=%v", rej, err)
	}

	waitFor(t, func() bool {
		snap := h.machine.Snapshot()
		return snap.Job != nil && snap.Job.Status == session.JobError
	}, "job error never recorded")

	snap := h.machine.Snapshot()
	if snap.Job.ErrorMessage != "mixdown failed" {
		t.Fatalf("unexpected job error %q", snap.Job.ErrorMessage)
	}
	if calls, _ := backend.publishes(); calls != 0 {
		t.Fatal("a failed job must never publish")
	}
	if _, failed, _, _ := h.notifier.counts(); failed != 1 {
		t.Fatalf("expected one failure notification, got %d", failed)
	}
}

func TestScheduleBelowMinimumLeadStaysDraft(t *testing.T) {
	backend := &fakeBackend{
		precheck:       producer.QuotaDecision{Allowed: true},
		assembleResult: producer.AssembleResult{JobID: "job-1", EpisodeID: "ep-1"},
		jobStates: []producer.JobState{
			{Status: session.JobProcessed, Episode: struct {
				ID string `json:"id"`
			}{ID: "ep-1"}},
		},
	}
	h := newHarness(t, backend, false)
	prepareDispatchable(t, h)
	h.machine.SetPlan(session.PublishPlan{
		Mode:        session.PublishSchedule,
		ScheduledAt: time.Now().Add(time.Minute),
	})

	if rej, err := h.orch.Dispatch(context.Background()); rej != nil || err != nil {
		t.Fatalf("Dispatch: rej=%v err=%v", rej, err)
	}

	waitFor(t, func() bool {
		snap := h.machine.Snapshot()
		return snap.Job != nil && snap.Job.Status == session.JobProcessed
	}, "job never completed")

	// Give the publish path a moment to run if it were going to.
	time.Sleep(100 * time.Millisecond)
	if calls, _ := backend.publishes(); calls != 0 {
		t.Fatal("a schedule below the minimum lead must fall back to draft, not publish")
	}
	snap := h.machine.Snapshot()
	if snap.PublishedID != "" {
		t.Fatalf("no publish id should be recorded, got %q", snap.PublishedID)
	}
}

func TestScheduledPublishCarriesPublishAt(t *testing.T) {
	scheduledAt := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	backend := &fakeBackend{
		precheck:       producer.QuotaDecision{Allowed: true},
		assembleResult: producer.AssembleResult{JobID: "job-1", EpisodeID: "ep-1"},
		jobStates: []producer.JobState{
			{Status: session.JobProcessed, Episode: struct {
				ID string `json:"id"`
			}{ID: "ep-1"}},
		},
		publishResult: producer.PublishResult{SpreakerEpisodeID: "sp-3"},
	}
	h := newHarness(t, backend, false)
	prepareDispatchable(t, h)
	h.machine.SetPlan(session.PublishPlan{
		Mode:        session.PublishSchedule,
		ScheduledAt: scheduledAt,
	})

	if rej, err := h.orch.Dispatch(context.Background()); rej != nil || err != nil {
		t.Fatalf("Dispatch: rej=%v err=%v", rej, err)
	}

	waitFor(t, func() bool {
		return h.machine.Snapshot().PublishedID == "sp-3"
	}, "scheduled publish never fired")

	_, req := backend.publishes()
	if req.PublishState != "scheduled" {
		t.Fatalf("expected scheduled publish state, got %q", req.PublishState)
	}
	if req.PublishAt == nil || !req.PublishAt.Equal(scheduledAt) {
		t.Fatalf("publish_at should carry the scheduled time, got %v", req.PublishAt)
	}
}

func TestSelectAudioRestoresCachedAnswers(t *testing.T) {
	backend := &fakeBackend{
		transcript: producer.TranscriptStatus{Ready: true},
	}
	h := newHarness(t, backend, true)

	cached := session.CachedState{
		Transcript: session.Transcript{Ready: true, Path: "/t/episode.json"},
		Resolutions: map[session.IntentKind]session.Resolution{
			session.IntentFlubber: session.ResolutionYes,
			session.IntentIntern:  session.ResolutionNo,
			session.IntentSFX:     session.ResolutionNo,
		},
		Accepted: map[session.IntentKind][]session.ReviewItem{
			session.IntentFlubber: {{ID: "cut-1"}},
		},
	}
	if err := h.cache.Save(context.Background(), "episode-12.wav", cached); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	h.orch.SelectAudio(context.Background(), "episode-12.wav")

	snap := h.machine.Snapshot()
	if !snap.Transcript.Ready || snap.Transcript.Path != "/t/episode.json" {
		t.Fatalf("cached transcript not restored: %+v", snap.Transcript)
	}
	if !snap.IntentsResolved() {
		t.Fatal("cached answers should leave intents resolved")
	}
	if got := snap.Intents[session.IntentFlubber].AcceptedEdits; len(got) != 1 || got[0].ID != "cut-1" {
		t.Fatalf("cached accepted edits not restored: %+v", got)
	}
	backend.mu.Lock()
	detects := backend.detectCalls
	backend.mu.Unlock()
	if detects != 0 {
		t.Fatalf("cached restore must not re-run detection, got %d calls", detects)
	}
}
