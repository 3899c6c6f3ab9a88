package metrics

import (
	"time"

	"github.com/minutecast/minutecast/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Delivery metrics
	SendAttemptCompleted(ch domain.Channel, outcome domain.AttemptOutcome, duration time.Duration)
	DeliveryOutcome(ch domain.Channel, outcome string)
	JobCompleted(status domain.JobStatus)
	JobsInFlightIncr()
	JobsInFlightDecr()
	BatchCompleted(recipients int, duration time.Duration)

	// Circuit breaker metrics
	BreakerStateUpdate(ch domain.Channel, state string)

	// Queue metrics
	MessageConsumed(ok bool)

	// Reconciler metrics
	StuckJobsUpdate(count int)
}

// Outcome constants for DeliveryOutcome metric.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
