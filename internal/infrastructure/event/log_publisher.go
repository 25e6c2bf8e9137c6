package event

import (
	"context"

	"github.com/erp/exchange/internal/domain/shared"
	"go.uber.org/zap"
)

// LogPublisher writes events to the log. Used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs each event at info
func (p *LogPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, ev := range events {
		p.logger.Info("event",
			zap.String("event_type", ev.EventType()),
			zap.String("aggregate_type", ev.AggregateType()),
			zap.String("aggregate_id", ev.AggregateID().String()),
			zap.String("event_id", ev.EventID().String()),
		)
	}
	return nil
}

var _ shared.EventPublisher = (*LogPublisher)(nil)
