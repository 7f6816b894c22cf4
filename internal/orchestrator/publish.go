package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"donecast/internal/logging"
	"donecast/internal/services/producer"
	"donecast/internal/session"
)

// Publish states accepted by the backend publish endpoint.
const (
	publishStateNow       = "published"
	publishStateScheduled = "scheduled"
)

// startJobPoller watches the dispatched assembly job until it reaches a
// terminal state. A processed job reporting an unexpected episode identifier
// re-arms the poller for another tick instead of completing; a job error is
// terminal and never restarts polling.
func (o *Orchestrator) startJobPoller(jobID string) {
	interval := o.cfg.JobPoll()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	errorRetry := o.cfg.ErrorRetry()
	if errorRetry <= 0 {
		errorRetry = interval
	}
	logger := o.logger.With(logging.String(logging.FieldJobID, jobID))

	o.scope.Start(taskJob, jobID, func(ctx context.Context) {
		for {
			delay := interval
			state, err := o.backend.JobStatus(ctx, jobID)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				delay = errorRetry
				logger.Debug("job poll failed; will retry", logging.Error(err))
			case state.Status == session.JobProcessed:
				if o.machine.CompleteJob(jobID, state.Episode.ID) {
					o.onJobCompleted(ctx, jobID, logger)
					return
				}
				// Episode mismatch: keep polling until the backend settles.
			case state.Status == session.JobError:
				if o.machine.FailJob(jobID, state.Error) {
					o.onJobFailed(ctx, state.Error, logger)
				}
				return
			default:
				o.machine.UpdateJobStatus(jobID, state.Status)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	})
}

func (o *Orchestrator) onJobCompleted(ctx context.Context, jobID string, logger *slog.Logger) {
	snapshot := o.machine.Snapshot()
	logger.Info("assembly completed",
		logging.String("episode_id", snapshot.Job.EpisodeID),
		logging.String(logging.FieldEventType, "build_completed"))
	if err := o.notifier.NotifyBuildCompleted(ctx, snapshot.Details.Title); err != nil {
		logger.Debug("build notification failed", logging.Error(err))
	}
	o.autoPublish(ctx, jobID)
}

func (o *Orchestrator) onJobFailed(ctx context.Context, message string, logger *slog.Logger) {
	snapshot := o.machine.Snapshot()
	logger.Error("assembly failed",
		logging.String("job_error", message),
		logging.String(logging.FieldEventType, "build_failed"),
		logging.String(logging.FieldErrorHint, "fix the reported problem and dispatch again"))
	if err := o.notifier.NotifyBuildFailed(ctx, snapshot.Details.Title, errors.New(message)); err != nil {
		logger.Debug("failure notification failed", logging.Error(err))
	}
}

// autoPublish fires the publish plan captured when the job completed. The
// claim is consumed at most once per job; draft plans, including a schedule
// that fell below the minimum lead, leave the episode unpublished.
func (o *Orchestrator) autoPublish(ctx context.Context, jobID string) {
	snapshot := o.machine.Snapshot()
	plan := snapshot.Plan
	if snapshot.CompletedPlan != nil {
		plan = *snapshot.CompletedPlan
	}

	state, publishAt, publishable := o.resolvePlan(plan)
	if !publishable {
		o.logger.Info("episode kept as draft",
			logging.String(logging.FieldJobID, jobID),
			logging.String("publish_mode", string(plan.Mode)))
		return
	}
	if !o.machine.ClaimPublish(jobID) {
		o.logger.Debug("publish already claimed", logging.String(logging.FieldJobID, jobID))
		return
	}

	result, err := o.backend.Publish(ctx, producer.PublishRequest{
		ShowID:       o.cfg.Show.ID,
		EpisodeID:    snapshot.Job.EpisodeID,
		PublishState: state,
		PublishAt:    publishAt,
	})
	if err != nil {
		o.logger.Error("publish failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "publish_failed"),
			logging.String(logging.FieldErrorHint, "publish manually from the dashboard"))
		return
	}

	o.machine.SetPublishedID(result.SpreakerEpisodeID)
	o.logger.Info("episode published",
		logging.String(logging.FieldJobID, jobID),
		logging.String("published_id", result.SpreakerEpisodeID),
		logging.String(logging.FieldEventType, "episode_published"))
	if err := o.notifier.NotifyPublished(ctx, snapshot.Details.Title, result.SpreakerEpisodeID); err != nil {
		o.logger.Debug("publish notification failed", logging.Error(err))
	}
}

// resolvePlan maps a publish plan to the backend publish state. A scheduled
// time closer than the minimum lead falls back to draft so the episode never
// goes out earlier than the user asked.
func (o *Orchestrator) resolvePlan(plan session.PublishPlan) (string, *time.Time, bool) {
	switch plan.Mode {
	case session.PublishNow:
		return publishStateNow, nil, true
	case session.PublishSchedule:
		lead := time.Until(plan.ScheduledAt)
		if lead < o.cfg.ScheduleMinLead() {
			o.logger.Warn("scheduled time is too close; keeping episode as draft",
				logging.Time("scheduled_at", plan.ScheduledAt),
				logging.Duration("minimum_lead", o.cfg.ScheduleMinLead()),
				logging.String(logging.FieldEventType, "schedule_lead_too_short"),
				logging.String(logging.FieldErrorHint, "pick a later time and publish from the dashboard"))
			return "", nil, false
		}
		at := plan.ScheduledAt.UTC()
		return publishStateScheduled, &at, true
	default:
		return "", nil, false
	}
}
