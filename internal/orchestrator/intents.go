package orchestrator

import (
	"context"
	"strconv"
	"time"

	"donecast/internal/logging"
	"donecast/internal/services"
	"donecast/internal/session"
)

// startDetection runs intent detection for the given audio epoch and then
// drains the review queue. Detection retries while the backend reports
// not-ready; on exhaustion the kinds fall back to manual answers.
func (o *Orchestrator) startDetection(epoch uint64, audioRef string) {
	logger := o.logger.With(
		logging.String(logging.FieldAudioRef, audioRef),
		logging.Int64("audio_epoch", int64(epoch)))

	o.scope.Start(taskDetection, strconv.FormatUint(epoch, 10), func(ctx context.Context) {
		counts, err := o.detectWithRetry(ctx, audioRef)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if o.machine.MarkDetectionFailed(epoch) {
				logger.Warn("intent detection exhausted; falling back to manual answers",
					logging.Error(err),
					logging.String(logging.FieldEventType, "intent_detection_failed"),
					logging.String(logging.FieldErrorHint, "answer the flubber/intern/sfx questions directly"))
			}
			return
		}
		if !o.machine.ApplyDetection(epoch, counts) {
			logger.Debug("discarded detection result for superseded audio")
			return
		}
		for kind, count := range counts {
			logger.Debug("intent detection applied",
				logging.String(logging.FieldIntent, string(kind)),
				logging.Int("count", count))
		}

		// Sound effects apply automatically; only retake and narrator edits
		// go through review.
		if counts[session.IntentSFX] > 0 {
			snapshot := o.machine.Snapshot()
			if snapshot.AudioEpoch == epoch && snapshot.Intents[session.IntentSFX].Resolution == session.ResolutionUnknown {
				o.machine.ResolveIntent(session.IntentSFX, session.ResolutionYes)
			}
		}

		o.drainReviews(ctx, epoch, audioRef, counts)
	})
}

// detectWithRetry polls the detection endpoint until counts arrive or the
// retry budget runs out. Not-ready and transient responses both consume an
// attempt.
func (o *Orchestrator) detectWithRetry(ctx context.Context, audioRef string) (map[session.IntentKind]int, error) {
	attempts := o.cfg.Workflow.DetectionRetryAttempts
	if attempts <= 0 {
		attempts = 20
	}
	backoff := o.cfg.DetectionBackoff()
	if backoff <= 0 {
		backoff = 750 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		counts, err := o.backend.DetectIntents(ctx, audioRef)
		if err == nil {
			return counts, nil
		}
		lastErr = err
		if !services.IsRetryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// drainReviews walks the review queue in order: retake review strictly before
// narrator review. Kinds with zero detections were already auto-resolved and
// never fetch candidates.
func (o *Orchestrator) drainReviews(ctx context.Context, epoch uint64, audioRef string, counts map[session.IntentKind]int) {
	for _, kind := range session.AllIntentKinds() {
		if !kind.NeedsReview() || counts[kind] == 0 {
			continue
		}
		snapshot := o.machine.Snapshot()
		if snapshot.AudioEpoch != epoch {
			return
		}
		if snapshot.Intents[kind].Resolution != session.ResolutionUnknown {
			continue
		}
		o.reviewKind(ctx, epoch, audioRef, kind)
	}
}

func (o *Orchestrator) reviewKind(ctx context.Context, epoch uint64, audioRef string, kind session.IntentKind) {
	logger := o.logger.With(
		logging.String(logging.FieldAudioRef, audioRef),
		logging.String(logging.FieldIntent, string(kind)))

	items, err := o.backend.Candidates(ctx, audioRef, kind)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("candidate fetch failed; resolving to no edits",
			logging.Error(err),
			logging.String(logging.FieldEventType, "candidate_fetch_failed"))
		o.machine.CancelReview(epoch, kind)
		return
	}
	if !o.machine.SetPendingReview(epoch, kind, items) {
		return
	}
	if o.reviews == nil {
		logger.Debug("no review handler installed; resolving to no edits")
		o.machine.CancelReview(epoch, kind)
		return
	}

	accepted, confirmed := o.reviews.Review(ctx, kind, items)
	if ctx.Err() != nil {
		return
	}
	if !confirmed {
		o.machine.CancelReview(epoch, kind)
		return
	}
	if !o.machine.ConfirmReview(epoch, kind, accepted) {
		logger.Debug("discarded review confirmation for superseded audio")
		return
	}
	logger.Info("review confirmed",
		logging.Int("accepted", len(accepted)),
		logging.Int("candidates", len(items)))
}
