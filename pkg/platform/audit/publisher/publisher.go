// Package publisher ships audit outbox rows to Kafka. The stream feeds SIEM
// and long-retention storage; the audit_entries table remains the system of
// record, so publish failures are retried by the worker rather than dropped.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic carries every audit entry, keyed by tenant so per-clinic consumers
// read a single partition in order.
const Topic = "docflow.audit.entries"

// Publisher wraps a franz-go client for the audit topic.
type Publisher struct {
	client *kgo.Client
}

// New connects to the brokers and ensures the audit topic exists.
func New(ctx context.Context, brokers []string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return &Publisher{client: client}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client) error {
	adm := kadm.NewClient(client)
	topics, err := adm.ListTopics(ctx, Topic)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	if topics.Has(Topic) {
		return nil
	}
	if _, err := adm.CreateTopic(ctx, 3, 1, nil, Topic); err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	return nil
}

// Publish sends one outbox payload synchronously. The worker marks the row
// published only after this returns nil.
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	record := &kgo.Record{Topic: Topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}
