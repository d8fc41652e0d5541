package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// LogSink emits one structured debug line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Page > 0 {
		fields = append(fields, zap.Int("page", evt.Page))
	}
	if evt.Title != "" {
		fields = append(fields, zap.String("title", evt.Title))
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	switch evt.Stage {
	case progress.StageFetchDone:
		fields = append(fields,
			zap.String("site", evt.Site),
			zap.String("status_class", string(evt.StatusClass)),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
		)
	case progress.StagePoemSaved:
		fields = append(fields,
			zap.Int("units", evt.Units),
			zap.String("uri", evt.URI),
			zap.String("sha256", evt.Hash),
		)
	case progress.StagePageDone, progress.StageRunDone, progress.StageRunError:
		fields = append(fields, zap.Int("saved", evt.Count), zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	s.logger.Debug("progress event", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
