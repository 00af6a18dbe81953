package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"repertor/internal/platform/config"
)

// Publisher delivers outbox rows to a destination. The Kafka implementation
// is used in production; tests swap in a recorder.
type Publisher interface {
	Publish(ctx context.Context, row OutboxRow) error
	Close()
}

// KafkaPublisher produces audit events to a single topic, keyed by aggregate
// ID so events for one registration stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to the brokers and ensures the audit topic
// exists.
func NewKafkaPublisher(ctx context.Context, cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, cfg.AuditTopic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", resp.Err)
	}

	return &KafkaPublisher{client: client, topic: cfg.AuditTopic}, nil
}

// Publish produces one row synchronously. The outbox worker only marks rows
// published after this returns nil.
func (p *KafkaPublisher) Publish(ctx context.Context, row OutboxRow) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(row.AggregateID),
		Value: row.Payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
