package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/config"
	"go.uber.org/zap"
)

// KafkaPublisher sends fire-and-forget notifications to one topic.
// Messages are keyed by aggregate id so events of one order or session stay ordered.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	logger   *zap.Logger
}

// NewSaramaConfig builds the producer configuration
func NewSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = cfg.RetryMax
	if cfg.FlushInterval > 0 {
		sc.Producer.Flush.Frequency = cfg.FlushInterval
	}
	return sc
}

// NewKafkaPublisher connects a sync producer to the configured brokers
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, cfg.ClientID, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic, source string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, source: source, logger: logger}
}

// Publish sends every event; one failed message does not stop the others
func (p *KafkaPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	var errs []error
	for _, ev := range events {
		data, err := Encode(p.source, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.AggregateID().String()),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event_type"), Value: []byte(ev.EventType())},
			},
		}
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to send %s: %w", ev.EventType(), err))
			continue
		}
		p.logger.Debug("event published",
			zap.String("event_type", ev.EventType()),
			zap.String("aggregate_id", ev.AggregateID().String()),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
	}
	return errors.Join(errs...)
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

var _ shared.EventPublisher = (*KafkaPublisher)(nil)
