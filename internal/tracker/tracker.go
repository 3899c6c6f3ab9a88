// Package tracker is the single source of truth for per-recipient and
// per-job delivery state. All transitions are idempotent and monotonic:
// terminal states never regress, and re-applying a terminal outcome is a
// no-op. Channel adapters never touch this state directly.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/domain"
)

var (
	ErrJobNotFound       = errors.New("distribution job not found")
	ErrRecipientNotFound = errors.New("recipient not found in job")
	// ErrTransitionDenied is returned when an update would move an
	// already-terminal recipient to a different status. Re-applying the
	// same terminal status returns nil.
	ErrTransitionDenied = errors.New("transition denied: recipient already in terminal state")
)

// Outcome is the per-recipient state change reported after attempts.
type Outcome struct {
	Status  domain.DeliveryStatus
	Retries int
	Error   string
}

type recipientState struct {
	mu  sync.Mutex
	rec domain.Recipient
}

type jobState struct {
	// mu is held in read mode by per-recipient writers (so unrelated
	// recipients update concurrently) and in write mode by aggregation
	// and snapshots, which need a view no writer is spanning.
	mu    sync.RWMutex
	meta  domain.Job
	recs  map[uuid.UUID]*recipientState
	order []uuid.UUID
}

// Tracker holds all live jobs, keyed by job id.
type Tracker struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*jobState
	clock func() time.Time
}

func New() *Tracker {
	return &Tracker{
		jobs:  make(map[uuid.UUID]*jobState),
		clock: time.Now,
	}
}

// WithClock overrides the time source. Only for tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// CreateJob registers a new job in pending state. Recipient ids must be
// unique within the job; order is preserved as insertion order.
func (t *Tracker) CreateJob(job domain.Job) error {
	js := &jobState{
		meta: job,
		recs: make(map[uuid.UUID]*recipientState, len(job.Recipients)),
	}
	js.meta.Status = domain.JobStatusPending
	js.meta.Recipients = nil
	if js.meta.CreatedAt.IsZero() {
		js.meta.CreatedAt = t.clock().UTC()
	}

	for _, r := range job.Recipients {
		if _, dup := js.recs[r.ID]; dup {
			return fmt.Errorf("duplicate recipient id %s", r.ID)
		}
		r.DeliveryStatus = domain.DeliveryStatusPending
		r.DeliveredAt = nil
		r.RetryCount = 0
		js.recs[r.ID] = &recipientState{rec: r}
		js.order = append(js.order, r.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	t.jobs[job.ID] = js
	return nil
}

// Start moves a pending job to in-progress. Idempotent for jobs already
// running; terminal jobs are left untouched.
func (t *Tracker) Start(jobID uuid.UUID) error {
	js, err := t.job(jobID)
	if err != nil {
		return err
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.meta.Status.IsTerminal() {
		return ErrTransitionDenied
	}
	if js.meta.Status == domain.JobStatusPending {
		js.meta.Status = domain.JobStatusInProgress
	}
	return nil
}

// RecordOutcome applies one recipient's state change. Terminal recipients
// accept a repeat of the same terminal status as a no-op; any other change
// is denied. retryCount never decreases.
func (t *Tracker) RecordOutcome(jobID, recipientID uuid.UUID, out Outcome) error {
	js, err := t.job(jobID)
	if err != nil {
		return err
	}

	js.mu.RLock()
	defer js.mu.RUnlock()

	rs, ok := js.recs[recipientID]
	if !ok {
		return ErrRecipientNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.rec.DeliveryStatus.IsTerminal() {
		if out.Status == rs.rec.DeliveryStatus {
			return nil
		}
		return ErrTransitionDenied
	}

	rs.rec.DeliveryStatus = out.Status
	if out.Retries > rs.rec.RetryCount {
		rs.rec.RetryCount = out.Retries
	}
	if out.Error != "" {
		rs.rec.LastError = out.Error
	}
	if out.Status == domain.DeliveryStatusDelivered {
		now := t.clock().UTC()
		rs.rec.DeliveredAt = &now
		rs.rec.LastError = ""
	}
	return nil
}

// Aggregate recomputes the job status from its recipients and returns it:
// completed iff all delivered, failed iff all failed, partially completed
// iff mixed with none pending or retrying, otherwise in-progress or
// retrying. Terminal status sticks; completedAt is set exactly once.
func (t *Tracker) Aggregate(jobID uuid.UUID) (domain.JobStatus, error) {
	js, err := t.job(jobID)
	if err != nil {
		return "", err
	}

	js.mu.Lock()
	defer js.mu.Unlock()

	if js.meta.Status.IsTerminal() {
		return js.meta.Status, nil
	}

	var delivered, failed, retrying, pending int
	maxRetries := 0
	lastError := ""
	for _, id := range js.order {
		rec := js.recs[id].rec
		switch rec.DeliveryStatus {
		case domain.DeliveryStatusDelivered:
			delivered++
		case domain.DeliveryStatusFailed:
			failed++
		case domain.DeliveryStatusRetrying:
			retrying++
		default:
			pending++
		}
		if rec.RetryCount > maxRetries {
			maxRetries = rec.RetryCount
		}
		if rec.LastError != "" {
			lastError = rec.LastError
		}
	}

	total := len(js.order)
	var status domain.JobStatus
	switch {
	case delivered == total:
		status = domain.JobStatusCompleted
	case failed == total:
		status = domain.JobStatusFailed
	case pending == 0 && retrying == 0:
		status = domain.JobStatusPartiallyCompleted
	case retrying > 0:
		status = domain.JobStatusRetrying
	default:
		status = domain.JobStatusInProgress
	}

	js.meta.Status = status
	js.meta.RetryCount = maxRetries
	js.meta.LastError = lastError
	if status.IsTerminal() && js.meta.CompletedAt == nil {
		now := t.clock().UTC()
		js.meta.CompletedAt = &now
	}
	return status, nil
}

// Snapshot returns a coherent copy of the job: no writer is mid-update on
// any recipient while the copy is taken.
func (t *Tracker) Snapshot(jobID uuid.UUID) (domain.Job, error) {
	js, err := t.job(jobID)
	if err != nil {
		return domain.Job{}, err
	}

	js.mu.Lock()
	defer js.mu.Unlock()

	job := js.meta
	job.Recipients = make([]domain.Recipient, 0, len(js.order))
	for _, id := range js.order {
		rec := js.recs[id].rec
		if rec.DeliveredAt != nil {
			at := *rec.DeliveredAt
			rec.DeliveredAt = &at
		}
		job.Recipients = append(job.Recipients, rec)
	}
	if job.CompletedAt != nil {
		at := *job.CompletedAt
		job.CompletedAt = &at
	}
	return job, nil
}

// Unresolved returns the ids of recipients not yet in a terminal state.
func (t *Tracker) Unresolved(jobID uuid.UUID) ([]uuid.UUID, error) {
	js, err := t.job(jobID)
	if err != nil {
		return nil, err
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	var out []uuid.UUID
	for _, id := range js.order {
		if !js.recs[id].rec.DeliveryStatus.IsTerminal() {
			out = append(out, id)
		}
	}
	return out, nil
}

// StuckJobs returns ids of non-terminal jobs created before the threshold,
// oldest first, at most limit.
func (t *Tracker) StuckJobs(olderThan time.Time, limit int) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type cand struct {
		id uuid.UUID
		at time.Time
	}
	var cands []cand
	for id, js := range t.jobs {
		js.mu.RLock()
		if !js.meta.Status.IsTerminal() && js.meta.CreatedAt.Before(olderThan) {
			cands = append(cands, cand{id, js.meta.CreatedAt})
		}
		js.mu.RUnlock()
	}
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].at.Before(cands[j-1].at); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]uuid.UUID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// PruneTerminal removes terminal jobs completed before the threshold and
// returns how many were removed.
func (t *Tracker) PruneTerminal(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for id, js := range t.jobs {
		js.mu.RLock()
		prune := js.meta.Status.IsTerminal() && js.meta.CompletedAt != nil && js.meta.CompletedAt.Before(olderThan)
		js.mu.RUnlock()
		if prune {
			delete(t.jobs, id)
			pruned++
		}
	}
	return pruned
}

func (t *Tracker) job(jobID uuid.UUID) (*jobState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	js, ok := t.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return js, nil
}
