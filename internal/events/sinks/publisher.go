package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/events"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

// PublisherSink publishes every event as one message on a topic.
type PublisherSink struct {
	publisher scraper.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink returns a sink that forwards events to topic.
func NewPublisherSink(publisher scraper.Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes events in order. A failed publish is reported but does not
// stop the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish events: %w", err))
			break
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s for job %s: %w", evt.Stage, evt.JobID, err))
			continue
		}
		s.logger.Debug("event published",
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements events.Sink.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
