package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaProducer publishes notification events, keyed so retries for the same
// recipient or appointment stay ordered within a partition.
type KafkaProducer struct {
	client *kgo.Client
}

// NewKafkaProducer connects to the brokers and ensures the notification
// topics exist.
func NewKafkaProducer(ctx context.Context, brokers []string) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopics(ctx, client, TopicEmail, TopicAppointments); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaProducer{client: client}, nil
}

func ensureTopics(ctx context.Context, client *kgo.Client, topics ...string) error {
	adm := kadm.NewClient(client)
	existing, err := adm.ListTopics(ctx, topics...)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	for _, topic := range topics {
		if existing.Has(topic) {
			continue
		}
		if _, err := adm.CreateTopic(ctx, 3, 1, nil, topic); err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
	}
	return nil
}

// Publish sends one event synchronously.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}

// LogPublisher writes events to the log instead of a broker. Used in local
// development and tests.
type LogPublisher struct {
	Logger interface {
		InfoContext(ctx context.Context, msg string, args ...any)
	}
}

func (p LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.Logger.InfoContext(ctx, "notification", "topic", topic, "key", key, "payload", string(payload))
	return nil
}
