package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusInProgress         JobStatus = "in_progress"
	JobStatusRetrying           JobStatus = "retrying"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusPartiallyCompleted JobStatus = "partially_completed"
	JobStatusFailed             JobStatus = "failed"
)

// IsTerminal reports whether no further transition is permitted for the job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job is one distribution of a finished minutes document to a recipient list.
// It is created by the coordinator and mutated only through the tracker.
type Job struct {
	ID        uuid.UUID
	MinutesID uuid.UUID
	MeetingID uuid.UUID

	Status     JobStatus
	Recipients []Recipient

	Priority   Priority
	MaxRetries int

	RetryCount int
	LastError  string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// JobOptions are caller-supplied overrides accepted at submission.
type JobOptions struct {
	MaxRetries int      // 0 means the engine default
	Priority   Priority // empty means normal
}

// Document is the immutable rendered minutes handed to the engine.
// The engine never inspects or regenerates content; it only carries it to
// the channel transports.
type Document struct {
	MinutesID uuid.UUID
	MeetingID uuid.UUID

	Subject  string
	HTMLBody string
	TextBody string
}

// Empty reports whether the document reference is missing rendered content.
func (d Document) Empty() bool {
	return d.HTMLBody == "" && d.TextBody == ""
}
