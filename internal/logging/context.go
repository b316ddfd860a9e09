package logging

import (
	"context"
	"log/slog"

	"clipstitch/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID identifies an upload session.
	FieldSessionID = "session_id"
	// FieldChallengeID identifies the challenge a clip or merge belongs to.
	FieldChallengeID = "challenge_id"
	// FieldJobID identifies a merge job.
	FieldJobID = "job_id"
	// FieldAssetID identifies a merged asset.
	FieldAssetID = "asset_id"
	// FieldStage is the standardized structured logging key for merge stage names.
	FieldStage = "stage"
	// FieldSlot is the statement index (0-2) a log line pertains to.
	FieldSlot = "slot"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries services.ErrorKind for failures.
	FieldErrorKind = "error_kind"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := services.ChallengeIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldChallengeID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
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

// ErrorAttrs returns the standard attributes describing a failure: the
// error itself, its classification, and the statement slot when known.
func ErrorAttrs(err error) []Attr {
	attrs := []Attr{Error(err), String(FieldErrorKind, services.ErrorKind(err))}
	if slot, ok := services.SlotFromError(err); ok {
		attrs = append(attrs, Int(FieldSlot, slot))
	}
	return attrs
}
