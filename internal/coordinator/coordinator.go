// Package coordinator runs distribution jobs end to end: batching the
// recipient list, fanning deliveries out under per-channel concurrency
// caps, and folding per-recipient results back into the job record.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/minutecast/minutecast/internal/batch"
	"github.com/minutecast/minutecast/internal/channel"
	"github.com/minutecast/minutecast/internal/domain"
	"github.com/minutecast/minutecast/internal/retry"
	"github.com/minutecast/minutecast/internal/tracker"
)

const (
	// DefaultChannelConcurrency caps in-flight sends per channel across
	// all jobs.
	DefaultChannelConcurrency = 20

	// DefaultJobTimeout bounds a single job run, including time spent
	// waiting on an open circuit.
	DefaultJobTimeout = 15 * time.Minute
)

// ErrInvalidRequest is returned by Submit when the request cannot become
// a job. Nothing is recorded for rejected requests.
var ErrInvalidRequest = errors.New("invalid distribution request")

// ErrJobTerminal is returned by Cancel when the job already finished.
var ErrJobTerminal = errors.New("job already in terminal state")

// errCancelled marks contexts ended by an explicit Cancel call, as
// opposed to a deadline or engine shutdown.
var errCancelled = errors.New("distribution cancelled")

// errStale marks contexts ended by the reconciler reaping a job that
// outlived its deadline without settling.
var errStale = errors.New("distribution timed out")

// Store persists job state as a write-behind copy of the tracker. All
// methods are best-effort; a store error never changes delivery flow.
type Store interface {
	CreateJob(ctx context.Context, job domain.Job) error
	UpdateJob(ctx context.Context, job domain.Job) error
	UpdateRecipient(ctx context.Context, jobID uuid.UUID, rec domain.Recipient) error
	InsertSendAttempt(ctx context.Context, attempt domain.SendAttempt) error
}

// AnalyticsSink receives every send attempt for delivery analytics.
type AnalyticsSink interface {
	Record(ctx context.Context, attempt domain.SendAttempt)
}

// MetricsSink defines the interface for recording coordinator metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SendAttemptCompleted(ch domain.Channel, outcome domain.AttemptOutcome, duration time.Duration)
	DeliveryOutcome(ch domain.Channel, outcome string)
	JobCompleted(status domain.JobStatus)
	JobsInFlightIncr()
	JobsInFlightDecr()
	BatchCompleted(recipients int, duration time.Duration)
}

// Config carries the tunables for a Coordinator. Zero values fall back
// to engine defaults.
type Config struct {
	BatchSize          int
	ChannelConcurrency int64
	JobTimeout         time.Duration
	Retry              retry.Policy
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = batch.DefaultSize
	}
	if c.ChannelConcurrency <= 0 {
		c.ChannelConcurrency = DefaultChannelConcurrency
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

type Coordinator struct {
	tracker  *tracker.Tracker
	executor *retry.Executor
	adapters map[domain.Channel]channel.Adapter
	cfg      Config

	store     Store         // optional, nil = in-memory only
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled

	sems map[domain.Channel]*semaphore.Weighted

	base       context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelCauseFunc
	wg      sync.WaitGroup
}

// New builds a Coordinator over the given adapters. The breaker guards
// every send; one semaphore per configured channel caps concurrency.
func New(tr *tracker.Tracker, breaker retry.Breaker, adapters map[domain.Channel]channel.Adapter, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	base, baseCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		tracker:    tr,
		adapters:   adapters,
		cfg:        cfg,
		sems:       make(map[domain.Channel]*semaphore.Weighted, len(adapters)),
		base:       base,
		baseCancel: baseCancel,
		cancels:    make(map[uuid.UUID]context.CancelCauseFunc),
	}
	for ch := range adapters {
		c.sems[ch] = semaphore.NewWeighted(cfg.ChannelConcurrency)
	}
	c.executor = retry.NewExecutor(breaker).WithAttemptSink(attemptSink{c})
	return c
}

func (c *Coordinator) WithStore(store Store) *Coordinator {
	c.store = store
	return c
}

func (c *Coordinator) WithAnalytics(sink AnalyticsSink) *Coordinator {
	c.analytics = sink
	return c
}

// WithMetrics attaches a metrics sink to the coordinator.
func (c *Coordinator) WithMetrics(sink MetricsSink) *Coordinator {
	c.metrics = sink
	return c
}

// Submit validates the request, registers the job, and starts delivery
// in the background. The job ID is usable with Status and Cancel
// immediately.
func (c *Coordinator) Submit(ctx context.Context, doc domain.Document, recipients []domain.Recipient, opts domain.JobOptions) (uuid.UUID, error) {
	if err := validate(doc, recipients, opts); err != nil {
		return uuid.Nil, err
	}

	recs := make([]domain.Recipient, len(recipients))
	copy(recs, recipients)
	for i := range recs {
		if recs[i].ID == uuid.Nil {
			recs[i].ID = uuid.New()
		}
	}

	job := domain.Job{
		ID:         uuid.New(),
		MinutesID:  doc.MinutesID,
		MeetingID:  doc.MeetingID,
		Recipients: recs,
		Priority:   opts.Priority,
		MaxRetries: opts.MaxRetries,
	}
	if job.Priority == "" {
		job.Priority = domain.PriorityNormal
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = retry.DefaultPolicy().MaxRetries
	}

	if err := c.tracker.CreateJob(job); err != nil {
		return uuid.Nil, fmt.Errorf("register job: %w", err)
	}
	if c.store != nil {
		if err := c.store.CreateJob(ctx, job); err != nil {
			log.Printf("coordinator: job=%s failed to persist: %v", job.ID, err)
		}
	}

	jobCtx, jobCancel := context.WithCancelCause(c.base)
	c.mu.Lock()
	c.cancels[job.ID] = jobCancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(jobCtx, job, doc)

	log.Printf("coordinator: job=%s accepted recipients=%d priority=%s", job.ID, len(recs), job.Priority)
	return job.ID, nil
}

// Status returns a point-in-time copy of the job and its recipients.
func (c *Coordinator) Status(jobID uuid.UUID) (domain.Job, error) {
	return c.tracker.Snapshot(jobID)
}

// Cancel stops a running job. In-flight attempts finish; recipients not
// yet settled are marked failed. Cancelling a terminal job is an error,
// cancelling twice is not.
func (c *Coordinator) Cancel(jobID uuid.UUID) error {
	snap, err := c.tracker.Snapshot(jobID)
	if err != nil {
		return err
	}
	if snap.Status.IsTerminal() {
		return ErrJobTerminal
	}

	c.mu.Lock()
	cancel := c.cancels[jobID]
	c.mu.Unlock()
	if cancel != nil {
		cancel(errCancelled)
		log.Printf("coordinator: job=%s cancellation requested", jobID)
		return nil
	}

	// No running goroutine (engine restarted mid-job). Settle directly.
	c.failUnresolved(jobID, errCancelled.Error())
	c.finalize(jobID)
	return nil
}

// Reap forces a stuck job to a terminal state. If the job's goroutine
// is still registered its context is cancelled so in-flight sends
// stop; otherwise unresolved recipients are failed directly.
func (c *Coordinator) Reap(jobID uuid.UUID) error {
	snap, err := c.tracker.Snapshot(jobID)
	if err != nil {
		return err
	}
	if snap.Status.IsTerminal() {
		return ErrJobTerminal
	}

	c.mu.Lock()
	cancel := c.cancels[jobID]
	c.mu.Unlock()
	if cancel != nil {
		cancel(errStale)
		log.Printf("coordinator: job=%s reaped as stuck", jobID)
		return nil
	}

	c.failUnresolved(jobID, errStale.Error())
	c.finalize(jobID)
	log.Printf("coordinator: job=%s settled as stuck", jobID)
	return nil
}

// Shutdown cancels all running jobs and waits for their goroutines,
// bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.baseCancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("coordinator shutdown: %w", ctx.Err())
	}
}

func (c *Coordinator) run(ctx context.Context, job domain.Job, doc domain.Document) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, job.ID)
		c.mu.Unlock()
	}()

	if c.metrics != nil {
		c.metrics.JobsInFlightIncr()
		defer c.metrics.JobsInFlightDecr()
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.cfg.JobTimeout, errStale)
	defer cancel()

	if err := c.tracker.Start(job.ID); err != nil {
		log.Printf("coordinator: job=%s start rejected: %v", job.ID, err)
		return
	}
	c.persistJob(job.ID)

	policy := c.cfg.Retry
	policy.MaxRetries = job.MaxRetries

	batchNum := 0
	for group := range batch.Groups(job.Recipients, c.cfg.BatchSize) {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()

		var wg sync.WaitGroup
		for _, rec := range group {
			wg.Add(1)
			go func(rec domain.Recipient) {
				defer wg.Done()
				c.deliver(ctx, job.ID, rec, doc, policy)
			}(rec)
		}
		wg.Wait()

		batchNum++
		log.Printf("coordinator: job=%s batch=%d recipients=%d took=%s", job.ID, batchNum, len(group), time.Since(started))
		if c.metrics != nil {
			c.metrics.BatchCompleted(len(group), time.Since(started))
		}
		// Re-aggregate at the batch boundary so the persisted job row
		// carries current status, retry count, and last error mid-run.
		if _, err := c.tracker.Aggregate(job.ID); err != nil {
			log.Printf("coordinator: job=%s failed to aggregate after batch: %v", job.ID, err)
		}
		c.persistJob(job.ID)
	}

	if ctx.Err() != nil {
		reason := "engine shutdown"
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			reason = cause.Error()
		}
		c.failUnresolved(job.ID, reason)
	}
	c.finalize(job.ID)
}

// deliver settles one recipient, walking their channel order and falling
// back to the next channel on anything short of success.
func (c *Coordinator) deliver(ctx context.Context, jobID uuid.UUID, rec domain.Recipient, doc domain.Document, policy retry.Policy) {
	var last retry.Result
	attempted := false

	for _, ch := range rec.ChannelPreference.Channels() {
		adapter, ok := c.adapters[ch]
		if !ok {
			log.Printf("coordinator: job=%s recipient=%s channel=%s not configured, skipping", jobID, rec.ID, ch)
			continue
		}

		sem := c.sems[ch]
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context ended while queued. Settlement happens in
			// failUnresolved with the cancellation reason.
			return
		}
		result := c.executor.Execute(ctx, adapter, jobID, rec, doc, policy)
		sem.Release(1)

		attempted = true
		last = result

		if result.Delivered() {
			c.recordDelivered(ctx, jobID, rec.ID, ch, result)
			return
		}
		if result.Aborted {
			break
		}
		log.Printf("coordinator: job=%s recipient=%s channel=%s exhausted outcome=%s err=%s", jobID, rec.ID, ch, result.Outcome, result.LastError)
	}

	c.settle(ctx, jobID, rec.ID, lastChannel(rec, c.adapters), last, attempted)
}

// settle records the terminal state for a recipient that was not
// delivered. Aborted recipients are left unsettled for failUnresolved.
func (c *Coordinator) settle(ctx context.Context, jobID, recipientID uuid.UUID, ch domain.Channel, last retry.Result, attempted bool) {
	if last.Aborted {
		return
	}
	reason := last.LastError
	if !attempted {
		reason = "no configured channel for recipient"
	}
	if reason == "" {
		reason = string(last.Outcome)
	}
	err := c.tracker.RecordOutcome(jobID, recipientID, tracker.Outcome{
		Status:  domain.DeliveryStatusFailed,
		Retries: last.Retries,
		Error:   reason,
	})
	if err != nil && !errors.Is(err, tracker.ErrTransitionDenied) {
		log.Printf("coordinator: job=%s recipient=%s failed to record outcome: %v", jobID, recipientID, err)
	}
	if c.metrics != nil {
		c.metrics.DeliveryOutcome(ch, "failed")
	}
	c.persistRecipient(ctx, jobID, recipientID)
}

func (c *Coordinator) recordDelivered(ctx context.Context, jobID, recipientID uuid.UUID, ch domain.Channel, result retry.Result) {
	err := c.tracker.RecordOutcome(jobID, recipientID, tracker.Outcome{
		Status:  domain.DeliveryStatusDelivered,
		Retries: result.Retries,
	})
	if err != nil && !errors.Is(err, tracker.ErrTransitionDenied) {
		log.Printf("coordinator: job=%s recipient=%s failed to record delivery: %v", jobID, recipientID, err)
	}
	if c.metrics != nil {
		c.metrics.DeliveryOutcome(ch, "success")
	}
	c.persistRecipient(ctx, jobID, recipientID)
}

// failUnresolved marks every recipient still pending or retrying as
// failed with the given reason.
func (c *Coordinator) failUnresolved(jobID uuid.UUID, reason string) {
	ids, err := c.tracker.Unresolved(jobID)
	if err != nil {
		log.Printf("coordinator: job=%s failed to list unresolved recipients: %v", jobID, err)
		return
	}
	for _, id := range ids {
		err := c.tracker.RecordOutcome(jobID, id, tracker.Outcome{
			Status: domain.DeliveryStatusFailed,
			Error:  reason,
		})
		if err != nil && !errors.Is(err, tracker.ErrTransitionDenied) {
			log.Printf("coordinator: job=%s recipient=%s failed to record outcome: %v", jobID, id, err)
		}
	}
	if len(ids) > 0 {
		log.Printf("coordinator: job=%s settled %d unresolved recipients reason=%q", jobID, len(ids), reason)
	}
}

func (c *Coordinator) finalize(jobID uuid.UUID) {
	status, err := c.tracker.Aggregate(jobID)
	if err != nil {
		log.Printf("coordinator: job=%s failed to aggregate: %v", jobID, err)
		return
	}
	log.Printf("coordinator: job=%s finished status=%s", jobID, status)
	if c.metrics != nil && status.IsTerminal() {
		c.metrics.JobCompleted(status)
	}
	c.persistJob(jobID)
}

// persistJob mirrors the tracker's current job record into the store.
// Uses a background context so late writes survive job cancellation.
func (c *Coordinator) persistJob(jobID uuid.UUID) {
	if c.store == nil {
		return
	}
	snap, err := c.tracker.Snapshot(jobID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.UpdateJob(ctx, snap); err != nil {
		log.Printf("coordinator: job=%s failed to persist job: %v", jobID, err)
	}
}

func (c *Coordinator) persistRecipient(ctx context.Context, jobID, recipientID uuid.UUID) {
	if c.store == nil {
		return
	}
	snap, err := c.tracker.Snapshot(jobID)
	if err != nil {
		return
	}
	for _, rec := range snap.Recipients {
		if rec.ID != recipientID {
			continue
		}
		if err := c.store.UpdateRecipient(context.WithoutCancel(ctx), jobID, rec); err != nil {
			log.Printf("coordinator: job=%s recipient=%s failed to persist: %v", jobID, recipientID, err)
		}
		return
	}
}

// attemptSink fans every send attempt out to the audit store, analytics,
// metrics, and the tracker's retrying state.
type attemptSink struct {
	c *Coordinator
}

func (s attemptSink) RecordAttempt(ctx context.Context, attempt domain.SendAttempt) {
	c := s.c
	if c.metrics != nil {
		c.metrics.SendAttemptCompleted(attempt.Channel, attempt.Outcome, attempt.Duration)
	}
	if c.store != nil {
		if err := c.store.InsertSendAttempt(context.WithoutCancel(ctx), attempt); err != nil {
			log.Printf("coordinator: job=%s failed to record attempt: %v", attempt.JobID, err)
		}
	}
	if c.analytics != nil {
		c.analytics.Record(ctx, attempt)
	}

	switch attempt.Outcome {
	case domain.AttemptTransientFailure, domain.AttemptTimeout, domain.AttemptCircuitOpen:
		err := c.tracker.RecordOutcome(attempt.JobID, attempt.RecipientID, tracker.Outcome{
			Status:  domain.DeliveryStatusRetrying,
			Retries: attempt.Attempt,
			Error:   attempt.Error,
		})
		if err != nil && !errors.Is(err, tracker.ErrTransitionDenied) {
			log.Printf("coordinator: job=%s recipient=%s failed to record retry state: %v", attempt.JobID, attempt.RecipientID, err)
		}
	}
}

func validate(doc domain.Document, recipients []domain.Recipient, opts domain.JobOptions) error {
	if doc.Empty() {
		return fmt.Errorf("%w: document has no content", ErrInvalidRequest)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("%w: recipient list is empty", ErrInvalidRequest)
	}
	for i, rec := range recipients {
		if rec.ContactAddress == "" {
			return fmt.Errorf("%w: recipient %d has no contact address", ErrInvalidRequest, i)
		}
		if !rec.ChannelPreference.Valid() {
			return fmt.Errorf("%w: recipient %d has invalid channel preference %q", ErrInvalidRequest, i, rec.ChannelPreference)
		}
	}
	if opts.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must not be negative", ErrInvalidRequest)
	}
	switch opts.Priority {
	case "", domain.PriorityNormal, domain.PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, opts.Priority)
	}
	return nil
}

// lastChannel picks the configured channel the recipient's preference
// ends on, for metrics labelling of failed deliveries.
func lastChannel(rec domain.Recipient, adapters map[domain.Channel]channel.Adapter) domain.Channel {
	chs := rec.ChannelPreference.Channels()
	for i := len(chs) - 1; i >= 0; i-- {
		if _, ok := adapters[chs[i]]; ok {
			return chs[i]
		}
	}
	if len(chs) > 0 {
		return chs[0]
	}
	return domain.ChannelEmail
}
