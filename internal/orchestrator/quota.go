package orchestrator

import (
	"context"

	"donecast/internal/logging"
	"donecast/internal/services"
	"donecast/internal/services/producer"
	"donecast/internal/session"
)

// RunPrecheck asks the backend whether the build fits the remaining minutes
// allowance and records the answer. Each request carries a fresh sequence
// number; only the response to the most recent request is applied, so an
// in-flight check for a superseded template/audio pair cannot clobber a newer
// one. A 402 is a valid blocked outcome, not an error.
func (o *Orchestrator) RunPrecheck(ctx context.Context) (session.QuotaSnapshot, error) {
	snapshot := o.machine.Snapshot()
	if snapshot.TemplateID == "" || snapshot.AudioRef == "" {
		return session.QuotaSnapshot{}, services.Wrap(services.ErrValidation,
			"orchestrator", "minutes precheck", "select a template and audio first", nil)
	}
	return o.precheck(ctx, o.machine.NextQuotaSeq(), snapshot.TemplateID, snapshot.AudioRef)
}

// precheck issues the backend call for an already-claimed sequence. The
// sequence must be claimed before the task that carries it starts, so claim
// order always matches request order even when an earlier task is still
// winding down.
func (o *Orchestrator) precheck(ctx context.Context, seq uint64, templateID, audioRef string) (session.QuotaSnapshot, error) {
	decision, err := o.backend.MinutesPrecheck(ctx, producer.PrecheckRequest{
		TemplateID: templateID,
		AudioRef:   audioRef,
	})
	if err != nil {
		quota, ok := services.AsQuotaError(err)
		if !ok {
			return session.QuotaSnapshot{}, err
		}
		blocked := session.QuotaSnapshot{
			Valid:            true,
			Allowed:          false,
			MinutesRequired:  quota.MinutesRequired,
			MinutesRemaining: quota.MinutesRemaining,
			RenewalDate:      quota.RenewalDate,
		}
		o.applyQuota(ctx, seq, blocked)
		return blocked, nil
	}

	snap := session.QuotaSnapshot{
		Valid:            true,
		Allowed:          decision.Allowed,
		MinutesRequired:  decision.MinutesRequired,
		MinutesRemaining: decision.MinutesRemaining,
		RenewalDate:      decision.RenewalDate,
	}
	o.applyQuota(ctx, seq, snap)
	return snap, nil
}

func (o *Orchestrator) applyQuota(ctx context.Context, seq uint64, snap session.QuotaSnapshot) {
	if !o.machine.ApplyQuota(seq, snap) {
		o.logger.Debug("discarded out-of-order precheck result")
		return
	}
	if snap.Allowed {
		return
	}
	o.logger.Warn("build blocked by minutes quota",
		logging.Any("minutes_required", snap.MinutesRequired),
		logging.Any("minutes_remaining", snap.MinutesRemaining),
		logging.String(logging.FieldEventType, "quota_blocked"),
		logging.String(logging.FieldErrorHint, "wait for renewal or upgrade the plan"))
	if err := o.notifier.NotifyQuotaBlocked(ctx, snap.MinutesRequired, snap.MinutesRemaining); err != nil {
		o.logger.Debug("quota notification failed", logging.Error(err))
	}
}
