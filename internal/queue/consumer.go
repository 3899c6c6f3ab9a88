package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	kgo "github.com/segmentio/kafka-go"

	"github.com/minutecast/minutecast/internal/coordinator"
	"github.com/minutecast/minutecast/internal/domain"
)

const commitTimeout = 3 * time.Second

// Engine accepts distribution requests. Implemented by coordinator.Coordinator.
type Engine interface {
	Submit(ctx context.Context, doc domain.Document, recipients []domain.Recipient, opts domain.JobOptions) (uuid.UUID, error)
}

// MetricsSink counts consumed messages. Nil disables metrics.
type MetricsSink interface {
	MessageConsumed(ok bool)
}

// Consumer reads distribution requests from Kafka and submits them to
// the engine. Offsets are committed manually: a message is committed
// once it has been either accepted by the engine or rejected as
// malformed, so a poison message never wedges the group.
type Consumer struct {
	reader  *kgo.Reader
	engine  Engine
	metrics MetricsSink
}

func NewConsumer(brokers []string, topic, groupID string, engine Engine) *Consumer {
	return &Consumer{
		reader: kgo.NewReader(kgo.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
		}),
		engine: engine,
	}
}

func (c *Consumer) WithMetrics(m MetricsSink) *Consumer {
	c.metrics = m
	return c
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("queue: consumer started topic=%s", c.reader.Config().Topic)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		accepted := c.process(ctx, msg.Value)
		c.recordConsumed(accepted)

		if err := c.commit(msg); err != nil {
			log.Printf("queue: commit failed partition=%d offset=%d err=%v", msg.Partition, msg.Offset, err)
		}
	}
}

// process returns whether the engine accepted the message. Both
// malformed payloads and engine validation rejections count as
// processed; only the accept/reject distinction is reported.
func (c *Consumer) process(ctx context.Context, payload []byte) bool {
	var msg DistributionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("queue: malformed message: %v", err)
		return false
	}

	doc, recipients, opts, err := msg.ToDomain()
	if err != nil {
		log.Printf("queue: rejected message minutes_id=%s err=%v", msg.MinutesID, err)
		return false
	}

	jobID, err := c.engine.Submit(ctx, doc, recipients, opts)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidRequest) {
			log.Printf("queue: rejected message minutes_id=%s err=%v", msg.MinutesID, err)
			return false
		}
		log.Printf("queue: submit failed minutes_id=%s err=%v", msg.MinutesID, err)
		return false
	}

	log.Printf("queue: accepted distribution job=%s minutes_id=%s recipients=%d", jobID, msg.MinutesID, len(recipients))
	return true
}

func (c *Consumer) commit(msg kgo.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(ctx, msg)
}

func (c *Consumer) recordConsumed(ok bool) {
	if c.metrics != nil {
		c.metrics.MessageConsumed(ok)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
