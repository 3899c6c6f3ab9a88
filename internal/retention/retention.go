// Package retention prunes terminal distribution jobs past their TTL,
// both from the in-memory tracker and from durable storage.
package retention

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const pruneTimeout = 30 * time.Second

// Pruner drops terminal jobs completed before a cutoff.
// Implemented by tracker.Tracker.
type Pruner interface {
	PruneTerminal(olderThan time.Time) int
}

// Store deletes terminal jobs from durable storage. Nil disables
// durable pruning.
type Store interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor runs retention sweeps on a cron schedule.
type Janitor struct {
	schedule string
	ttl      time.Duration
	pruner   Pruner
	store    Store
	clock    func() time.Time
	cron     *cron.Cron
}

// New creates a Janitor. The schedule uses standard 5-field cron
// syntax with descriptors like @hourly.
func New(schedule string, ttl time.Duration, pruner Pruner) *Janitor {
	return &Janitor{
		schedule: schedule,
		ttl:      ttl,
		pruner:   pruner,
		clock:    time.Now,
	}
}

func (j *Janitor) WithStore(store Store) *Janitor {
	j.store = store
	return j
}

// WithClock overrides the time source. Used in tests.
func (j *Janitor) WithClock(clock func() time.Time) *Janitor {
	j.clock = clock
	return j
}

// Start schedules the sweep and begins running it. The schedule is
// assumed valid; configuration validation catches bad schedules before
// the janitor is built.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("retention: started (schedule=%q, ttl=%s)", j.schedule, j.ttl)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	log.Println("retention: stopped")
}

// sweep executes one retention pass.
func (j *Janitor) sweep() {
	cutoff := j.clock().UTC().Add(-j.ttl)

	pruned := j.pruner.PruneTerminal(cutoff)
	if pruned > 0 {
		log.Printf("retention: pruned %d jobs from tracker", pruned)
	}

	if j.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	deleted, err := j.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		// Storage error: log and move on. Next sweep retries.
		log.Printf("retention: durable prune failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("retention: deleted %d jobs from storage", deleted)
	}
}
