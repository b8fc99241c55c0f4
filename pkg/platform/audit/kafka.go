package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes audit events to a kafka topic, keyed by domain so all
// events for one domain land on the same partition in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the given brokers. The caller owns Close.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// kafkaPayload is the JSON structure produced to the topic.
type kafkaPayload struct {
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Domain    string `json:"domain,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Action    string `json:"action"`
	Phase     string `json:"phase,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CallerID  string `json:"caller_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Publish produces one event synchronously. The audit worker already runs off
// the request path, so a blocking produce here is acceptable.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(kafkaPayload{
		Category:  string(event.Category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Domain:    event.Domain,
		JobID:     event.JobID,
		Action:    event.Action,
		Phase:     event.Phase,
		Outcome:   event.Outcome,
		Reason:    event.Reason,
		CallerID:  event.CallerID,
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Domain),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes and releases the kafka client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
