package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/coordinator"
	"github.com/minutecast/minutecast/internal/domain"
)

// Store implements coordinator.Store using PostgreSQL. The tracker owns
// the live job state; this store is the durable write-behind copy used
// for audit queries and restart recovery.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts the job and its recipients in a transaction.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.MinutesID,
		job.MeetingID,
		string(job.Status),
		string(job.Priority),
		job.MaxRetries,
		job.RetryCount,
		job.LastError,
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}

	for _, rec := range job.Recipients {
		_, err = tx.ExecContext(ctx, queryInsertRecipient,
			rec.ID,
			job.ID,
			rec.ContactAddress,
			string(rec.ChannelPreference),
			string(rec.DeliveryStatus),
			rec.DeliveredAt,
			rec.RetryCount,
			rec.LastError,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateJob updates the status fields of an existing job record.
func (s *Store) UpdateJob(ctx context.Context, job domain.Job) error {
	result, err := s.db.ExecContext(ctx, queryUpdateJob,
		job.ID,
		string(job.Status),
		job.RetryCount,
		job.LastError,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateRecipient mirrors one recipient's delivery state.
func (s *Store) UpdateRecipient(ctx context.Context, jobID uuid.UUID, rec domain.Recipient) error {
	result, err := s.db.ExecContext(ctx, queryUpdateRecipient,
		rec.ID,
		jobID,
		string(rec.DeliveryStatus),
		rec.DeliveredAt,
		rec.RetryCount,
		rec.LastError,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertSendAttempt appends one attempt to the audit trail.
func (s *Store) InsertSendAttempt(ctx context.Context, attempt domain.SendAttempt) error {
	_, err := s.db.ExecContext(ctx, queryInsertSendAttempt,
		attempt.ID,
		attempt.JobID,
		attempt.RecipientID,
		string(attempt.Channel),
		attempt.Attempt,
		string(attempt.Outcome),
		attempt.Error,
		attempt.StartedAt,
		attempt.Duration.Milliseconds(),
	)
	return err
}

// GetJob returns a job with its recipients.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	var job domain.Job
	var status, priority string

	err := s.db.QueryRowContext(ctx, queryGetJob, jobID).Scan(
		&job.ID,
		&job.MinutesID,
		&job.MeetingID,
		&status,
		&priority,
		&job.MaxRetries,
		&job.RetryCount,
		&job.LastError,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.Priority = domain.Priority(priority)

	rows, err := s.db.QueryContext(ctx, queryGetRecipients, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.Recipient
		var pref, deliveryStatus string

		err := rows.Scan(
			&rec.ID,
			&rec.ContactAddress,
			&pref,
			&deliveryStatus,
			&rec.DeliveredAt,
			&rec.RetryCount,
			&rec.LastError,
		)
		if err != nil {
			return domain.Job{}, err
		}
		rec.ChannelPreference = domain.ChannelPreference(pref)
		rec.DeliveryStatus = domain.DeliveryStatus(deliveryStatus)
		job.Recipients = append(job.Recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.Job{}, err
	}

	return job, nil
}

// ListAttempts returns the attempt history for a job, oldest first,
// paginated by limit and offset.
func (s *Store) ListAttempts(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.SendAttempt, error) {
	rows, err := s.db.QueryContext(ctx, queryListAttempts, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SendAttempt
	for rows.Next() {
		var attempt domain.SendAttempt
		var ch, outcome string
		var durationMs int64

		err := rows.Scan(
			&attempt.ID,
			&attempt.JobID,
			&attempt.RecipientID,
			&ch,
			&attempt.Attempt,
			&outcome,
			&attempt.Error,
			&attempt.StartedAt,
			&durationMs,
		)
		if err != nil {
			return nil, err
		}
		attempt.Channel = domain.Channel(ch)
		attempt.Outcome = domain.AttemptOutcome(outcome)
		attempt.Duration = time.Duration(durationMs) * time.Millisecond
		result = append(result, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff,
// cascading to recipients and attempts. Returns the number of jobs removed.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryDeleteTerminalJobs, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Compile-time interface assertion
var _ coordinator.Store = (*Store)(nil)
