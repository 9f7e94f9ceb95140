package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer exports every broadcast event to a single topic, keyed by the
// broadcast topic so a room's events stay on one partition.
type Producer struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

var _ broadcast.Sink = (*Producer)(nil)

func NewProducer(brokers []string, topic string, m *metrics.Metrics, logger zerolog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newProducer(w, topic, m, logger)
}

func newProducer(w messageWriter, topic string, m *metrics.Metrics, logger zerolog.Logger) *Producer {
	return &Producer{
		writer:  w,
		topic:   topic,
		metrics: m,
		logger:  logger.With().Str("component", "kafka-producer").Logger(),
	}
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Deliver(ctx context.Context, topic broadcast.Topic, msg *protocol.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
	})
	if err != nil {
		p.metrics.IncKafkaMessage(p.topic, "error")
		return err
	}
	p.metrics.IncKafkaMessage(p.topic, "produced")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
