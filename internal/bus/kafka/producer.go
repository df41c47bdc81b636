// Package kafka publishes governor decisions, exit verdicts and evolution
// cycle outputs to Kafka for downstream consumers such as the alert service.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Config holds the producer settings.
type Config struct {
	Brokers  []string
	ClientID string
}

// Producer implements domain.EventPublisher on a synchronous sarama producer.
// Publish returns only after the broker acknowledged the message.
type Producer struct {
	producer sarama.SyncProducer
}

// NewSaramaConfig returns the producer configuration used by New.
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_8_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// New connects a producer to the configured brokers.
func New(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "riskd"
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return &Producer{producer: p}, nil
}

// Wrap adapts an existing sarama producer.
func Wrap(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// Publish sends payload to topic keyed by key. Messages with the same key
// land on the same partition, so per-group or per-position order holds.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", topic, err)
	}
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("kafka: close: %w", err)
	}
	return nil
}

var _ domain.EventPublisher = (*Producer)(nil)
