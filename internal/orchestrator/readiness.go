package orchestrator

import (
	"context"
	"strconv"
	"time"

	"donecast/internal/logging"
	"donecast/internal/session"
)

// startTranscriptPoller polls transcript readiness for the given audio epoch.
// The poller stops once the transcript is ready, the epoch is superseded, or
// the scope cancels it. Errors are swallowed; the next tick retries.
func (o *Orchestrator) startTranscriptPoller(epoch uint64, audioRef string) {
	interval := o.cfg.TranscriptPoll()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	errorRetry := o.cfg.ErrorRetry()
	if errorRetry <= 0 {
		errorRetry = interval
	}
	logger := o.logger.With(
		logging.String(logging.FieldAudioRef, audioRef),
		logging.Int64("audio_epoch", int64(epoch)))

	o.scope.Start(taskTranscript, strconv.FormatUint(epoch, 10), func(ctx context.Context) {
		for {
			delay := interval
			status, err := o.backend.TranscriptStatus(ctx, audioRef)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				delay = errorRetry
				logger.Debug("transcript poll failed; will retry", logging.Error(err))
			case status.Ready:
				if !o.machine.ApplyTranscript(epoch, session.Transcript{Ready: true, Path: status.TranscriptPath}) {
					logger.Debug("discarded transcript result for superseded audio")
				} else {
					logger.Info("transcript ready",
						logging.String("transcript_path", status.TranscriptPath))
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	})
}
