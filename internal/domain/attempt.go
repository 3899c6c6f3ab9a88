package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptTransientFailure AttemptOutcome = "transient_failure"
	AttemptPermanentFailure AttemptOutcome = "permanent_failure"
	AttemptTimeout          AttemptOutcome = "timeout"
	AttemptCircuitOpen      AttemptOutcome = "circuit_open"
)

// SendAttempt records one channel call for a recipient. Attempts are
// transient: they feed logging, metrics, and the audit trail, never the
// delivery state machine directly.
type SendAttempt struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	RecipientID uuid.UUID

	Channel Channel
	Attempt int

	Outcome AttemptOutcome
	Error   string

	StartedAt time.Time
	Duration  time.Duration
}
