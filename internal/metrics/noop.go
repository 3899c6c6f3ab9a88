package metrics

import (
	"time"

	"github.com/minutecast/minutecast/internal/domain"
)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SendAttemptCompleted(ch domain.Channel, outcome domain.AttemptOutcome, d time.Duration) {
}
func (n *NoopSink) DeliveryOutcome(ch domain.Channel, outcome string)     {}
func (n *NoopSink) JobCompleted(status domain.JobStatus)                  {}
func (n *NoopSink) JobsInFlightIncr()                                     {}
func (n *NoopSink) JobsInFlightDecr()                                     {}
func (n *NoopSink) BatchCompleted(recipients int, duration time.Duration) {}
func (n *NoopSink) BreakerStateUpdate(ch domain.Channel, state string)    {}
func (n *NoopSink) MessageConsumed(ok bool)                               {}
func (n *NoopSink) StuckJobsUpdate(count int)                             {}
