package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minutecast/minutecast/internal/domain"
)

// DefaultWindow is the time bucket width for attempt counters.
const DefaultWindow = time.Minute

// DefaultRetention is how long counter keys live in Redis.
const DefaultRetention = 24 * time.Hour

// RedisSink counts send attempts per channel and outcome in time-bucketed
// Redis keys. Writes are best-effort; failures are logged and dropped so
// analytics never slows delivery.
type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		window:    DefaultWindow,
		retention: DefaultRetention,
	}
}

// WithWindow sets the counter bucket width.
func (s *RedisSink) WithWindow(window time.Duration) *RedisSink {
	if window > 0 {
		s.window = window
	}
	return s
}

// WithRetention sets the key TTL.
func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	if retention > 0 {
		s.retention = retention
	}
	return s
}

func (s *RedisSink) Record(ctx context.Context, attempt domain.SendAttempt) {
	channelKey := buildChannelKey(attempt.Channel, attempt.Outcome, attempt.StartedAt, s.window)
	jobKey := buildJobKey(attempt.JobID.String(), attempt.Outcome)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, channelKey)
	pipe.Expire(ctx, channelKey, s.retention)
	pipe.Incr(ctx, jobKey)
	pipe.Expire(ctx, jobKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildChannelKey(ch domain.Channel, outcome domain.AttemptOutcome, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("ch:%s:o:%s:%s", ch, outcome, bucket)
}

func buildJobKey(jobID string, outcome domain.AttemptOutcome) string {
	return fmt.Sprintf("j:%s:o:%s", jobID, outcome)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
