package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/events"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("event_ts", evt.TS),
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", string(evt.Category)))
		}
		if evt.Listings > 0 {
			fields = append(fields, zap.Int("listings", evt.Listings))
		}
		if evt.Enrichment != nil {
			fields = append(fields,
				zap.Int("urls", evt.Enrichment.URLs),
				zap.Int("resolved", evt.Enrichment.Resolved),
				zap.Int("failed", evt.Enrichment.Failed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("job event", fields...)
	}
	return nil
}

// Close implements events.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
