package logging

import (
	"context"
	"log/slog"
	"strings"
)

// stageLevelHandler applies logging.stage_overrides: records tagged with a
// stage listed in the overrides use that stage's minimum level, everything
// else uses the base level. The wrapped handler must be configured with the
// most verbose level in play.
type stageLevelHandler struct {
	next      slog.Handler
	base      slog.Level
	overrides map[string]slog.Level
	stage     string
}

func newStageLevelHandler(next slog.Handler, base slog.Level, raw map[string]string) slog.Handler {
	overrides := make(map[string]slog.Level, len(raw))
	for stage, level := range raw {
		overrides[strings.ToLower(strings.TrimSpace(stage))] = parseLevel(level)
	}
	return &stageLevelHandler{next: next, base: base, overrides: overrides}
}

func (h *stageLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *stageLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	stage := h.stage
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == FieldStage {
			stage = attr.Value.String()
			return false
		}
		return true
	})
	if record.Level < h.levelFor(stage) {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *stageLevelHandler) levelFor(stage string) slog.Level {
	if lvl, ok := h.overrides[strings.ToLower(stage)]; ok {
		return lvl
	}
	return h.base
}

func (h *stageLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	for _, attr := range attrs {
		if attr.Key == FieldStage {
			clone.stage = attr.Value.String()
		}
	}
	return &clone
}

func (h *stageLevelHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}
