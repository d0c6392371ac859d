package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/storage"
)

// DefaultKafkaTopic receives chain events.
const DefaultKafkaTopic = "solana-token-feed.events"

// NewKafkaConfig returns the producer configuration used by NewKafkaSink.
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "solana-token-feed"

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	// SyncProducer must have Return.Successes=true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// KafkaSink writes chain events to a topic, keyed by mint so that all
// events of a token land on one partition in order.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
	now   func() time.Time
}

// NewKafkaSink connects a sync producer to brokers (comma separated).
func NewKafkaSink(brokers, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	list := splitCSV(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if cfg == nil {
		cfg = NewKafkaConfig()
	}

	p, err := sarama.NewSyncProducer(list, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return newKafkaSink(p, topic), nil
}

func newKafkaSink(p sarama.SyncProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{topic: topic, p: p, now: time.Now}
}

// Compile-time interface check.
var _ storage.EventSink = (*KafkaSink)(nil)

// WriteEvents sends all events in one producer call.
func (s *KafkaSink) WriteEvents(ctx context.Context, events []domain.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	// SyncProducer does not take a context; honour cancellation up front.
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		b, err := encode(string(ev.Kind()), toPayload(ev), s.now())
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(ev.TokenMint()),
			Value: sarama.ByteEncoder(b),
		})
	}

	if err := s.p.SendMessages(msgs); err != nil {
		var perr sarama.ProducerErrors
		if errors.As(err, &perr) {
			return fmt.Errorf("kafka emit failed for %d of %d events: %w", len(perr), len(msgs), err)
		}
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
