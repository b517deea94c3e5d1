package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured slog.Logger. Events carrying
// an "error" entry or named bug_found are logged at Error level, everything
// else at the configured level.
type SlogEmitter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogEmitter creates a SlogEmitter. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger, level slog.Level) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger, level: level}
}

// Emit logs event with its fields as attributes.
func (s *SlogEmitter) Emit(event Event) {
	level := s.level
	if event.Msg == "bug_found" || event.HasError() {
		level = slog.LevelError
	}
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.Int("iteration", event.Iteration),
		slog.Int("step", event.Step),
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor", event.ActorID))
	}
	if len(event.Meta) > 0 {
		keys := make([]string, 0, len(event.Meta))
		for k := range event.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		meta := make([]any, 0, len(keys))
		for _, k := range keys {
			meta = append(meta, slog.Any(k, event.Meta[k]))
		}
		attrs = append(attrs, slog.Group("meta", meta...))
	}
	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
