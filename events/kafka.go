package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/0xmhha/explorer-indexer/internal/config"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer used for relaying
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher relays fan-out messages to a single Kafka topic. Messages
// are keyed by record hash and carry the event type and fan-out topic as
// headers.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	closed atomic.Bool
	logger *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a KafkaPublisher writing to cfg.Brokers
func NewKafkaPublisher(cfg config.EventBusKafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = constants.DefaultKafkaTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}

	return newKafkaPublisher(writer, topic, logger), nil
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.With(zap.String("component", "kafka-publisher")),
	}
}

func (p *KafkaPublisher) write(ctx context.Context, envs []Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	msgs := make([]kafka.Message, 0, len(envs))
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal %s message: %w", env.Event, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(env.Key),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(env.Event)},
				{Key: "topic", Value: []byte(env.Topic)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// PublishBlock implements Publisher
func (p *KafkaPublisher) PublishBlock(ctx context.Context, block *storage.Block) error {
	return p.write(ctx, []Envelope{BlockEnvelope(block)})
}

// PublishTransaction implements Publisher. All envelopes for the
// transaction are written in one batch.
func (p *KafkaPublisher) PublishTransaction(ctx context.Context, tx *storage.Transaction) error {
	return p.write(ctx, TransactionEnvelopes(tx))
}

// PublishNetworkStats implements Publisher
func (p *KafkaPublisher) PublishNetworkStats(ctx context.Context, stats *NetworkStats) error {
	return p.write(ctx, []Envelope{StatsEnvelope(stats)})
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	p.logger.Info("disconnected from Kafka")
	return nil
}
