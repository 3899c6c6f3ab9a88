// Package reconciler detects and settles stuck distribution jobs.
//
// A job is stuck when it has been non-terminal for longer than the
// threshold, which is configured above the job timeout. That only
// happens when the job's goroutine failed to settle it, for instance
// because a channel transport ignored its context. The reconciler
// periodically scans for such jobs and forces them terminal.
// Idempotency is guaranteed by the tracker's terminal state guards.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// JobSource lists non-terminal jobs older than a cutoff.
// Implemented by tracker.Tracker.
type JobSource interface {
	StuckJobs(olderThan time.Time, limit int) []uuid.UUID
}

// Reaper forces a job to a terminal state.
// Implemented by coordinator.Coordinator.
type Reaper interface {
	Reap(jobID uuid.UUID) error
}

// MetricsSink reports the stuck job count per cycle. Nil disables it.
type MetricsSink interface {
	StuckJobsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a non-terminal job is
	// considered stuck. Must exceed the job timeout.
	// Default: 20 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stuck jobs per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 20 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler scans for stuck jobs and reaps them.
type Reconciler struct {
	config  Config
	source  JobSource
	reaper  Reaper
	metrics MetricsSink
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, source JobSource, reaper Reaper) *Reconciler {
	return &Reconciler{
		config: config,
		source: source,
		reaper: reaper,
		clock:  time.Now,
	}
}

func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

// WithClock overrides the time source. Used in tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	stuck := r.source.StuckJobs(cutoff, r.config.BatchSize)
	if r.metrics != nil {
		r.metrics.StuckJobsUpdate(len(stuck))
	}
	if len(stuck) == 0 {
		// Nothing to do. Silent success.
		return
	}

	log.Printf("reconciler: found %d stuck jobs", len(stuck))

	reaped := 0
	failed := 0

	for _, jobID := range stuck {
		// Check context before each reap to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d jobs", reaped+failed, len(stuck))
			return
		}

		if err := r.reaper.Reap(jobID); err != nil {
			// Job may have settled between scan and reap.
			// Log and continue.
			log.Printf("reconciler: failed to reap job=%s: %v", jobID, err)
			failed++
			continue
		}
		reaped++
	}

	log.Printf("reconciler: cycle complete, reaped=%d, failed=%d", reaped, failed)
}
