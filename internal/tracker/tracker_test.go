package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/domain"
	"github.com/minutecast/minutecast/internal/testutil"
)

func newJob(recipients int) domain.Job {
	return domain.Job{
		ID:         uuid.New(),
		MinutesID:  uuid.New(),
		MeetingID:  uuid.New(),
		MaxRetries: 3,
		Recipients: testutil.Recipients(recipients, domain.PreferEmail),
	}
}

func delivered(retries int) Outcome {
	return Outcome{Status: domain.DeliveryStatusDelivered, Retries: retries}
}

func failed(retries int, reason string) Outcome {
	return Outcome{Status: domain.DeliveryStatusFailed, Retries: retries, Error: reason}
}

func TestCreateJob_StartsPending(t *testing.T) {
	tr := New()
	job := newJob(3)
	if err := tr.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	snap, err := tr.Snapshot(job.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want pending", snap.Status)
	}
	if len(snap.Recipients) != 3 {
		t.Fatalf("expected 3 recipients, got %d", len(snap.Recipients))
	}
	for _, r := range snap.Recipients {
		if r.DeliveryStatus != domain.DeliveryStatusPending {
			t.Errorf("recipient %s status = %s, want pending", r.ID, r.DeliveryStatus)
		}
	}
}

func TestCreateJob_DuplicateRecipient(t *testing.T) {
	tr := New()
	job := newJob(2)
	job.Recipients[1].ID = job.Recipients[0].ID
	if err := tr.CreateJob(job); err == nil {
		t.Fatal("expected error for duplicate recipient id")
	}
}

func TestCreateJob_DuplicateJob(t *testing.T) {
	tr := New()
	job := newJob(1)
	if err := tr.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := tr.CreateJob(job); err == nil {
		t.Fatal("expected error for duplicate job id")
	}
}

func TestRecordOutcome_Delivered(t *testing.T) {
	tr := New()
	job := newJob(1)
	rID := job.Recipients[0].ID
	tr.CreateJob(job)

	if err := tr.RecordOutcome(job.ID, rID, delivered(2)); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	snap, _ := tr.Snapshot(job.ID)
	r := snap.Recipients[0]
	if r.DeliveryStatus != domain.DeliveryStatusDelivered {
		t.Errorf("status = %s, want delivered", r.DeliveryStatus)
	}
	if r.DeliveredAt == nil {
		t.Error("deliveredAt must be set for delivered recipient")
	}
	if r.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", r.RetryCount)
	}
}

func TestRecordOutcome_TerminalIdempotent(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tr := New().WithClock(clock.Now)
	job := newJob(1)
	rID := job.Recipients[0].ID
	tr.CreateJob(job)

	tr.RecordOutcome(job.ID, rID, delivered(1))
	snap1, _ := tr.Snapshot(job.ID)

	clock.Advance(time.Hour)
	if err := tr.RecordOutcome(job.ID, rID, delivered(5)); err != nil {
		t.Fatalf("re-applying same terminal outcome must be a no-op, got %v", err)
	}

	snap2, _ := tr.Snapshot(job.ID)
	if !snap2.Recipients[0].DeliveredAt.Equal(*snap1.Recipients[0].DeliveredAt) {
		t.Error("deliveredAt changed on idempotent re-apply")
	}
	if snap2.Recipients[0].RetryCount != snap1.Recipients[0].RetryCount {
		t.Error("retryCount changed on idempotent re-apply")
	}
}

func TestRecordOutcome_TerminalCannotRegress(t *testing.T) {
	tr := New()
	job := newJob(1)
	rID := job.Recipients[0].ID
	tr.CreateJob(job)

	tr.RecordOutcome(job.ID, rID, failed(3, "mailbox full"))
	err := tr.RecordOutcome(job.ID, rID, delivered(0))
	if !errors.Is(err, ErrTransitionDenied) {
		t.Fatalf("expected ErrTransitionDenied, got %v", err)
	}

	snap, _ := tr.Snapshot(job.ID)
	if snap.Recipients[0].DeliveryStatus != domain.DeliveryStatusFailed {
		t.Error("terminal status regressed")
	}
}

func TestRecordOutcome_RetryCountMonotonic(t *testing.T) {
	tr := New()
	job := newJob(1)
	rID := job.Recipients[0].ID
	tr.CreateJob(job)

	tr.RecordOutcome(job.ID, rID, Outcome{Status: domain.DeliveryStatusRetrying, Retries: 2, Error: "throttled"})
	tr.RecordOutcome(job.ID, rID, Outcome{Status: domain.DeliveryStatusRetrying, Retries: 1, Error: "throttled again"})

	snap, _ := tr.Snapshot(job.ID)
	if snap.Recipients[0].RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2 (never decreases)", snap.Recipients[0].RetryCount)
	}
}

func TestRecordOutcome_UnknownIDs(t *testing.T) {
	tr := New()
	job := newJob(1)
	tr.CreateJob(job)

	if err := tr.RecordOutcome(uuid.New(), job.Recipients[0].ID, delivered(0)); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := tr.RecordOutcome(job.ID, uuid.New(), delivered(0)); !errors.Is(err, ErrRecipientNotFound) {
		t.Errorf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestAggregate_AllDelivered(t *testing.T) {
	tr := New()
	job := newJob(3)
	tr.CreateJob(job)
	tr.Start(job.ID)

	for _, r := range job.Recipients {
		tr.RecordOutcome(job.ID, r.ID, delivered(0))
	}

	status, err := tr.Aggregate(job.ID)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", status)
	}

	snap, _ := tr.Snapshot(job.ID)
	if snap.CompletedAt == nil {
		t.Error("completedAt must be set for terminal job")
	}
}

func TestAggregate_AllFailed(t *testing.T) {
	tr := New()
	job := newJob(2)
	tr.CreateJob(job)
	tr.Start(job.ID)

	for _, r := range job.Recipients {
		tr.RecordOutcome(job.ID, r.ID, failed(3, "unreachable"))
	}

	status, _ := tr.Aggregate(job.ID)
	if status != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", status)
	}
	snap, _ := tr.Snapshot(job.ID)
	if snap.LastError == "" {
		t.Error("job lastError must surface a recipient failure reason")
	}
}

func TestAggregate_Mixed(t *testing.T) {
	tr := New()
	job := newJob(3)
	tr.CreateJob(job)
	tr.Start(job.ID)

	tr.RecordOutcome(job.ID, job.Recipients[0].ID, delivered(0))
	tr.RecordOutcome(job.ID, job.Recipients[1].ID, failed(3, "bad address"))
	tr.RecordOutcome(job.ID, job.Recipients[2].ID, delivered(1))

	status, _ := tr.Aggregate(job.ID)
	if status != domain.JobStatusPartiallyCompleted {
		t.Errorf("status = %s, want partially_completed", status)
	}
}

func TestAggregate_RetryingWins(t *testing.T) {
	tr := New()
	job := newJob(2)
	tr.CreateJob(job)
	tr.Start(job.ID)

	tr.RecordOutcome(job.ID, job.Recipients[0].ID, delivered(0))
	tr.RecordOutcome(job.ID, job.Recipients[1].ID, Outcome{Status: domain.DeliveryStatusRetrying, Retries: 1, Error: "throttled"})

	status, _ := tr.Aggregate(job.ID)
	if status != domain.JobStatusRetrying {
		t.Errorf("status = %s, want retrying", status)
	}
	snap, _ := tr.Snapshot(job.ID)
	if snap.CompletedAt != nil {
		t.Error("completedAt must stay nil while non-terminal")
	}
}

func TestAggregate_PendingIsInProgress(t *testing.T) {
	tr := New()
	job := newJob(2)
	tr.CreateJob(job)
	tr.Start(job.ID)

	tr.RecordOutcome(job.ID, job.Recipients[0].ID, delivered(0))

	status, _ := tr.Aggregate(job.ID)
	if status != domain.JobStatusInProgress {
		t.Errorf("status = %s, want in_progress", status)
	}
}

func TestAggregate_TerminalSticks(t *testing.T) {
	tr := New()
	job := newJob(1)
	tr.CreateJob(job)
	tr.Start(job.ID)
	tr.RecordOutcome(job.ID, job.Recipients[0].ID, delivered(0))

	first, _ := tr.Aggregate(job.ID)
	if first != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", first)
	}
	snap1, _ := tr.Snapshot(job.ID)

	second, _ := tr.Aggregate(job.ID)
	if second != domain.JobStatusCompleted {
		t.Errorf("terminal status changed to %s", second)
	}
	snap2, _ := tr.Snapshot(job.ID)
	if !snap2.CompletedAt.Equal(*snap1.CompletedAt) {
		t.Error("completedAt changed after terminal")
	}
}

func TestConcurrentRecipientUpdates(t *testing.T) {
	tr := New()
	job := newJob(50)
	tr.CreateJob(job)
	tr.Start(job.ID)

	var wg sync.WaitGroup
	for _, r := range job.Recipients {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			tr.RecordOutcome(job.ID, id, Outcome{Status: domain.DeliveryStatusRetrying, Retries: 1, Error: "x"})
			tr.RecordOutcome(job.ID, id, delivered(1))
		}(r.ID)
	}
	wg.Wait()

	status, _ := tr.Aggregate(job.ID)
	if status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", status)
	}
}

func TestStuckJobs(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tr := New().WithClock(clock.Now)

	old := newJob(1)
	tr.CreateJob(old)

	clock.Advance(30 * time.Minute)
	fresh := newJob(1)
	tr.CreateJob(fresh)

	done := newJob(1)
	tr.CreateJob(done)
	tr.RecordOutcome(done.ID, done.Recipients[0].ID, delivered(0))
	tr.Aggregate(done.ID)

	stuck := tr.StuckJobs(clock.Now().Add(-15*time.Minute), 10)
	if len(stuck) != 1 || stuck[0] != old.ID {
		t.Fatalf("expected only the old unfinished job, got %v", stuck)
	}
}

func TestPruneTerminal(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tr := New().WithClock(clock.Now)

	job := newJob(1)
	tr.CreateJob(job)
	tr.RecordOutcome(job.ID, job.Recipients[0].ID, delivered(0))
	tr.Aggregate(job.ID)

	live := newJob(1)
	tr.CreateJob(live)

	clock.Advance(48 * time.Hour)
	if n := tr.PruneTerminal(clock.Now().Add(-24 * time.Hour)); n != 1 {
		t.Fatalf("expected 1 pruned job, got %d", n)
	}
	if _, err := tr.Snapshot(job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Error("pruned job still present")
	}
	if _, err := tr.Snapshot(live.ID); err != nil {
		t.Error("live job must survive pruning")
	}
}
