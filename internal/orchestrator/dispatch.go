package orchestrator

import (
	"context"
	"fmt"

	"donecast/internal/logging"
	"donecast/internal/services"
	"donecast/internal/services/producer"
	"donecast/internal/session"
)

// Dispatch claims the single assembly invocation for the session, re-runs the
// minutes precheck, and submits the build job. A rejection leaves the session
// unchanged; any failure after the claim releases it and returns the session
// to the details step with all entered data intact. Quota exhaustion at
// either the precheck or the submit surfaces as the same blocked rejection.
func (o *Orchestrator) Dispatch(ctx context.Context) (*session.Rejection, error) {
	key, rej := o.machine.BeginDispatch()
	if rej != nil {
		return rej, nil
	}

	snap, err := o.RunPrecheck(ctx)
	if err != nil {
		o.machine.DispatchFailed()
		return nil, fmt.Errorf("dispatch precheck: %w", err)
	}
	if !snap.Allowed {
		o.machine.DispatchFailed()
		return &session.Rejection{
			Reason: session.RejectQuotaBlocked,
			Detail: fmt.Sprintf("build needs %.0f minutes but only %.0f remain",
				snap.MinutesRequired, snap.MinutesRemaining),
		}, nil
	}

	state := o.machine.Snapshot()
	result, err := o.backend.Assemble(ctx, assembleRequest(state, key))
	if err != nil {
		o.machine.DispatchFailed()
		if quota, ok := services.AsQuotaError(err); ok {
			seq := o.machine.NextQuotaSeq()
			o.applyQuota(ctx, seq, session.QuotaSnapshot{
				Valid:            true,
				Allowed:          false,
				MinutesRequired:  quota.MinutesRequired,
				MinutesRemaining: quota.MinutesRemaining,
				RenewalDate:      quota.RenewalDate,
			})
			return &session.Rejection{
				Reason: session.RejectQuotaBlocked,
				Detail: fmt.Sprintf("build needs %.0f minutes but only %.0f remain",
					quota.MinutesRequired, quota.MinutesRemaining),
			}, nil
		}
		return nil, fmt.Errorf("dispatch assembly: %w", err)
	}

	o.machine.DispatchSucceeded(session.Job{
		ID:        result.JobID,
		Status:    session.JobQueued,
		EpisodeID: result.EpisodeID,
	})
	o.logger.Info("assembly dispatched",
		logging.String(logging.FieldJobID, result.JobID),
		logging.String("episode_id", result.EpisodeID),
		logging.String(logging.FieldAudioRef, state.AudioRef))

	o.persistAnswers(ctx, state)
	o.startJobPoller(result.JobID)
	return nil, nil
}

func assembleRequest(state *session.BuildSession, idempotencyKey string) producer.AssembleRequest {
	overrides := make(map[session.IntentKind][]session.ReviewItem)
	for kind, intent := range state.Intents {
		if intent.Resolution == session.ResolutionYes && len(intent.AcceptedEdits) > 0 {
			overrides[kind] = intent.AcceptedEdits
		}
	}
	return producer.AssembleRequest{
		TemplateID:     state.TemplateID,
		AudioRef:       state.AudioRef,
		IdempotencyKey: idempotencyKey,
		Details: producer.EpisodeDetails{
			Title:       state.Details.Title,
			Description: state.Details.Description,
			CoverPath:   state.Details.CoverPath,
		},
		Overrides:      overrides,
		VoiceOverrides: state.VoiceOverrides,
	}
}

// persistAnswers stores the resolved intent answers so re-entering the flow
// with the same audio reference skips detection and review.
func (o *Orchestrator) persistAnswers(ctx context.Context, state *session.BuildSession) {
	if !o.cache.Enabled() || state.AudioRef == "" {
		return
	}
	cached := session.CachedState{
		Transcript:  state.Transcript,
		Resolutions: make(map[session.IntentKind]session.Resolution, len(state.Intents)),
		Accepted:    make(map[session.IntentKind][]session.ReviewItem),
	}
	for kind, intent := range state.Intents {
		cached.Resolutions[kind] = intent.Resolution
		if len(intent.AcceptedEdits) > 0 {
			cached.Accepted[kind] = intent.AcceptedEdits
		}
	}
	if err := o.cache.Save(ctx, state.AudioRef, cached); err != nil {
		o.logger.Warn("failed to cache intent answers",
			logging.String(logging.FieldAudioRef, state.AudioRef),
			logging.Error(err))
	}
}
