package logging

import (
	"context"
	"log/slog"

	"donecast/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID identifies the build session a log line belongs to.
	FieldSessionID = "session_id"
	// FieldAudioRef identifies the source audio reference driving a poller or request.
	FieldAudioRef = "audio_ref"
	// FieldStep is the build step the session occupied when the event fired.
	FieldStep = "step"
	// FieldJobID identifies the backend assembly job.
	FieldJobID = "job_id"
	// FieldIntent is the editorial intent kind (flubber, intern, sfx).
	FieldIntent = "intent"
	// FieldCorrelationID carries the per-request correlation identifier.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log lines for machine filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next operator action for WARN/ERROR lines.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if step, ok := services.StepFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
