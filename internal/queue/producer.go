package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	kgo "github.com/segmentio/kafka-go"
)

// Producer publishes distribution requests. Used by upstream tooling
// to feed the worker without going through the HTTP API.
type Producer struct {
	writer *kgo.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kgo.Writer{
			Addr:         kgo.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kgo.LeastBytes{},
			RequiredAcks: kgo.RequireOne,
		},
	}
}

// Publish writes one distribution request keyed by minutes ID, so
// retries of the same document land on the same partition.
func (p *Producer) Publish(ctx context.Context, msg DistributionMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kgo.Message{
		Key:   []byte(msg.MinutesID),
		Value: payload,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
