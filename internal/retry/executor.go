// Package retry applies a uniform retry policy around any channel adapter.
// Keeping policy here and classification in the adapters means a policy
// change applies to both channels at once.
package retry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/backoff"
	"github.com/minutecast/minutecast/internal/channel"
	"github.com/minutecast/minutecast/internal/circuitbreaker"
	"github.com/minutecast/minutecast/internal/domain"
)

// Policy bounds one recipient's send-through-retry pipeline.
type Policy struct {
	// MaxRetries is the transient-failure budget after the initial attempt.
	MaxRetries int
	// AttemptTimeout bounds each individual channel call.
	AttemptTimeout time.Duration
	// Backoff shapes the wait between attempts.
	Backoff backoff.Policy
	// CircuitWait is how long to wait before re-consulting an open breaker.
	// Circuit-open rejections never consume the retry budget.
	CircuitWait time.Duration
}

// DefaultPolicy returns the engine-wide retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		AttemptTimeout: 30 * time.Second,
		Backoff:        backoff.Default(),
		CircuitWait:    time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.Backoff == (backoff.Policy{}) {
		p.Backoff = d.Backoff
	}
	if p.CircuitWait <= 0 {
		p.CircuitWait = d.CircuitWait
	}
	return p
}

// Breaker is the health gate consulted before every attempt.
type Breaker interface {
	Allow(ch domain.Channel) error
	RecordSuccess(ch domain.Channel)
	RecordFailure(ch domain.Channel)
}

// AttemptSink receives every send attempt, including circuit-open
// rejections. Implementations must be non-blocking best-effort; attempt
// records feed the audit trail and metrics, never the retry decision.
type AttemptSink interface {
	RecordAttempt(ctx context.Context, attempt domain.SendAttempt)
}

// Result is the terminal outcome of one recipient on one channel.
type Result struct {
	// Outcome is the final attempt classification. Aborted results carry
	// the outcome that was pending when the context ended.
	Outcome domain.AttemptOutcome
	// Retries is how many retries the recipient consumed (the index of the
	// final attempt). Circuit-open rejections are not counted.
	Retries int
	// LastError is the most recent failure reason, retained across retries
	// for diagnostics.
	LastError string
	// Aborted is set when cancellation or the job deadline ended the
	// pipeline before the recipient resolved.
	Aborted bool
}

func (r Result) Delivered() bool { return r.Outcome == domain.AttemptSuccess && !r.Aborted }

// Executor drives bounded retries through the circuit breaker.
type Executor struct {
	breaker Breaker
	sink    AttemptSink // optional, nil = disabled
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewExecutor(breaker Breaker) *Executor {
	return &Executor{
		breaker: breaker,
		sleep:   sleepCtx,
	}
}

// WithAttemptSink attaches an attempt sink to the executor.
func (e *Executor) WithAttemptSink(sink AttemptSink) *Executor {
	e.sink = sink
	return e
}

// Execute runs the recipient's attempts on one channel until a terminal
// outcome: success, permanent failure, retry-budget exhaustion, or context
// end. Attempts are strictly sequential; attempt N+1 never starts before
// attempt N's outcome is known.
func (e *Executor) Execute(ctx context.Context, adapter channel.Adapter, jobID uuid.UUID, recipient domain.Recipient, doc domain.Document, policy Policy) Result {
	policy = policy.withDefaults()
	ch := adapter.Channel()

	attempt := 0
	var lastErr string

	for {
		if ctx.Err() != nil {
			return Result{Outcome: domain.AttemptTransientFailure, Retries: attempt, LastError: abortReason(ctx, lastErr), Aborted: true}
		}

		if err := e.breaker.Allow(ch); err != nil {
			e.record(ctx, jobID, recipient.ID, ch, attempt, domain.AttemptCircuitOpen, err.Error(), 0)
			lastErr = err.Error()
			if e.sleep(ctx, policy.CircuitWait) != nil {
				return Result{Outcome: domain.AttemptCircuitOpen, Retries: attempt, LastError: abortReason(ctx, lastErr), Aborted: true}
			}
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		out := adapter.Send(attemptCtx, recipient, doc)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		switch {
		case out.IsSuccess():
			e.breaker.RecordSuccess(ch)
			e.record(ctx, jobID, recipient.ID, ch, attempt, domain.AttemptSuccess, "", out.Duration)
			return Result{Outcome: domain.AttemptSuccess, Retries: attempt}

		case out.Code == channel.PermanentFailure:
			e.breaker.RecordFailure(ch)
			e.record(ctx, jobID, recipient.ID, ch, attempt, domain.AttemptPermanentFailure, out.Reason, out.Duration)
			return Result{Outcome: domain.AttemptPermanentFailure, Retries: attempt, LastError: out.Reason}

		default:
			e.breaker.RecordFailure(ch)
			outcome := domain.AttemptTransientFailure
			reason := out.Reason
			if timedOut {
				outcome = domain.AttemptTimeout
				reason = "attempt timed out after " + policy.AttemptTimeout.String()
			}
			e.record(ctx, jobID, recipient.ID, ch, attempt, outcome, reason, out.Duration)
			lastErr = reason

			if attempt >= policy.MaxRetries {
				return Result{Outcome: outcome, Retries: attempt, LastError: lastErr}
			}
			delay := policy.Backoff.Delay(attempt)
			attempt++
			if e.sleep(ctx, delay) != nil {
				return Result{Outcome: outcome, Retries: attempt - 1, LastError: abortReason(ctx, lastErr), Aborted: true}
			}
		}
	}
}

func (e *Executor) record(ctx context.Context, jobID, recipientID uuid.UUID, ch domain.Channel, attempt int, outcome domain.AttemptOutcome, reason string, duration time.Duration) {
	if e.sink == nil {
		return
	}
	e.sink.RecordAttempt(ctx, domain.SendAttempt{
		ID:          uuid.New(),
		JobID:       jobID,
		RecipientID: recipientID,
		Channel:     ch,
		Attempt:     attempt,
		Outcome:     outcome,
		Error:       reason,
		StartedAt:   time.Now().UTC().Add(-duration),
		Duration:    duration,
	})
}

func abortReason(ctx context.Context, lastErr string) string {
	if err := ctx.Err(); err != nil {
		if lastErr != "" {
			return lastErr + " (" + err.Error() + ")"
		}
		return err.Error()
	}
	return lastErr
}

// sleepCtx waits for d or until ctx ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Breaker = (*circuitbreaker.Breaker)(nil)
