// Package channel translates uniform send requests into concrete transport
// calls and classifies their results. Adapters never retry; retry policy
// belongs to the retry executor so it stays channel-agnostic.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/minutecast/minutecast/internal/domain"
)

// TransientError marks a failure worth retrying: network errors,
// 5xx-equivalent responses, throttling.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: malformed
// addresses, unknown recipients, rejected content.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

type Code string

const (
	Success          Code = "success"
	TransientFailure Code = "transient_failure"
	PermanentFailure Code = "permanent_failure"
)

// Outcome is the classified result of exactly one send invocation.
type Outcome struct {
	Code     Code
	Reason   string
	Duration time.Duration
}

func (o Outcome) IsSuccess() bool   { return o.Code == Success }
func (o Outcome) IsRetryable() bool { return o.Code == TransientFailure }

// Adapter is the uniform send contract both channels implement. Send makes
// at most one outbound transport call and never retries internally.
type Adapter interface {
	Channel() domain.Channel
	Send(ctx context.Context, recipient domain.Recipient, doc domain.Document) Outcome
}

// DirectMessageTransport posts rendered content to one chat identity.
type DirectMessageTransport interface {
	PostMessage(ctx context.Context, identity, content string) error
}

// EmailTransport sends one message to one mailbox and returns the provider's
// message id.
type EmailTransport interface {
	SendMail(ctx context.Context, address, subject, htmlBody, textBody string) (string, error)
}

// classify maps a transport error to an outcome. Unrecognized errors are
// treated as transient so an unexpected provider hiccup stays retryable.
func classify(err error, start time.Time) Outcome {
	elapsed := time.Since(start)
	if err == nil {
		return Outcome{Code: Success, Duration: elapsed}
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return Outcome{Code: PermanentFailure, Reason: perm.Error(), Duration: elapsed}
	}
	var trans *TransientError
	if errors.As(err, &trans) {
		return Outcome{Code: TransientFailure, Reason: trans.Error(), Duration: elapsed}
	}
	return Outcome{Code: TransientFailure, Reason: err.Error(), Duration: elapsed}
}

// newLimiter builds a per-channel send throttle. ratePerSec <= 0 disables
// throttling.
func newLimiter(ratePerSec int) *rate.Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
}

// waitLimiter blocks until the limiter admits a send or the context ends.
func waitLimiter(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return &TransientError{Reason: "send throttle wait", Err: err}
	}
	return nil
}
