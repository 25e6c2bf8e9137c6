package event

import (
	"context"
	"fmt"
	"io"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/config"
	"go.uber.org/zap"
)

// FanoutPublisher delivers events to several publishers. Failures and panics
// of one sink are logged and do not reach the caller.
type FanoutPublisher struct {
	sinks  []shared.EventPublisher
	logger *zap.Logger
}

// NewFanoutPublisher creates a fanout over sinks
func NewFanoutPublisher(logger *zap.Logger, sinks ...shared.EventPublisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks, logger: logger}
}

// Publish dispatches to every sink
func (f *FanoutPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, sink := range f.sinks {
		if err := f.dispatch(ctx, sink, events); err != nil {
			f.logger.Error("event sink failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (f *FanoutPublisher) dispatch(ctx context.Context, sink shared.EventPublisher, events []shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Publish(ctx, events...)
}

// Close closes every sink that holds resources
func (f *FanoutPublisher) Close() error {
	var firstErr error
	for _, sink := range f.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewPublisher builds the notification publisher: Kafka when brokers are
// configured, always backed by the log publisher
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*FanoutPublisher, error) {
	sinks := []shared.EventPublisher{NewLogPublisher(logger)}
	if cfg.Enabled() {
		kafka, err := NewKafkaPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing notifications to kafka",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
		)
		sinks = append(sinks, kafka)
	}
	return NewFanoutPublisher(logger, sinks...), nil
}

var _ shared.EventPublisher = (*FanoutPublisher)(nil)
