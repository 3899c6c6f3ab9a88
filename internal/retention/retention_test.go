package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/minutecast/minutecast/internal/testutil"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	pruned  int
}

func (f *fakePruner) PruneTerminal(olderThan time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	return f.pruned
}

type fakeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakeStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func TestSweepPrunesTrackerAndStore(t *testing.T) {
	pruner := &fakePruner{pruned: 4}
	store := &fakeStore{deleted: 4}
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	j := New("@hourly", 24*time.Hour, pruner).WithStore(store).WithClock(clock.Now)
	j.sweep()

	wantCutoff := clock.Now().Add(-24 * time.Hour)
	if len(pruner.cutoffs) != 1 || !pruner.cutoffs[0].Equal(wantCutoff) {
		t.Errorf("pruner cutoffs = %v, want [%s]", pruner.cutoffs, wantCutoff)
	}
	if len(store.cutoffs) != 1 || !store.cutoffs[0].Equal(wantCutoff) {
		t.Errorf("store cutoffs = %v, want [%s]", store.cutoffs, wantCutoff)
	}
}

func TestSweepWithoutStore(t *testing.T) {
	pruner := &fakePruner{}
	j := New("@hourly", time.Hour, pruner)
	j.sweep()

	if len(pruner.cutoffs) != 1 {
		t.Errorf("pruner called %d times, want 1", len(pruner.cutoffs))
	}
}

func TestSweepSurvivesStoreError(t *testing.T) {
	pruner := &fakePruner{}
	store := &fakeStore{err: errors.New("connection refused")}

	j := New("@hourly", time.Hour, pruner).WithStore(store)
	j.sweep()
	j.sweep()

	if len(store.cutoffs) != 2 {
		t.Errorf("store called %d times, want 2", len(store.cutoffs))
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New("not a schedule", time.Hour, &fakePruner{})
	if err := j.Start(); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
}

func TestStartAndStop(t *testing.T) {
	j := New("@hourly", time.Hour, &fakePruner{})
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()

	// Stop on a never started janitor is a no-op.
	var idle Janitor
	idle.Stop()
}
