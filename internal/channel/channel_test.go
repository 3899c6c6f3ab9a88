package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/domain"
)

// fakeDMTransport records calls and returns a scripted error.
type fakeDMTransport struct {
	calls    int
	identity string
	content  string
	err      error
}

func (f *fakeDMTransport) PostMessage(ctx context.Context, identity, content string) error {
	f.calls++
	f.identity = identity
	f.content = content
	return f.err
}

type fakeEmailTransport struct {
	calls int
	err   error
}

func (f *fakeEmailTransport) SendMail(ctx context.Context, address, subject, htmlBody, textBody string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "msg-123", nil
}

func dmRecipient() domain.Recipient {
	return domain.Recipient{
		ID:                uuid.New(),
		ContactAddress:    "8837261",
		ChannelPreference: domain.PreferDirectMessage,
	}
}

func testDoc() domain.Document {
	return domain.Document{
		Subject:  "Minutes",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
	}
}

func TestDirectMessageAdapter_Success(t *testing.T) {
	tr := &fakeDMTransport{}
	a := NewDirectMessageAdapter(tr, 0)

	out := a.Send(context.Background(), dmRecipient(), testDoc())
	if !out.IsSuccess() {
		t.Fatalf("expected success, got %+v", out)
	}
	if tr.calls != 1 {
		t.Errorf("expected exactly 1 transport call, got %d", tr.calls)
	}
	if tr.content != "hi" {
		t.Errorf("expected text body sent, got %q", tr.content)
	}
}

func TestDirectMessageAdapter_FallsBackToSubject(t *testing.T) {
	tr := &fakeDMTransport{}
	a := NewDirectMessageAdapter(tr, 0)

	doc := testDoc()
	doc.TextBody = ""
	a.Send(context.Background(), dmRecipient(), doc)
	if tr.content != "Minutes" {
		t.Errorf("expected subject sent when text body empty, got %q", tr.content)
	}
}

func TestAdapter_PermanentClassification(t *testing.T) {
	tr := &fakeDMTransport{err: &PermanentError{Reason: "chat unreachable"}}
	a := NewDirectMessageAdapter(tr, 0)

	out := a.Send(context.Background(), dmRecipient(), testDoc())
	if out.Code != PermanentFailure {
		t.Fatalf("expected permanent failure, got %s", out.Code)
	}
	if out.IsRetryable() {
		t.Error("permanent failure must not be retryable")
	}
}

func TestAdapter_TransientClassification(t *testing.T) {
	tr := &fakeDMTransport{err: &TransientError{Reason: "flood limit"}}
	a := NewDirectMessageAdapter(tr, 0)

	out := a.Send(context.Background(), dmRecipient(), testDoc())
	if out.Code != TransientFailure {
		t.Fatalf("expected transient failure, got %s", out.Code)
	}
	if !out.IsRetryable() {
		t.Error("transient failure must be retryable")
	}
}

func TestAdapter_UnknownErrorIsTransient(t *testing.T) {
	tr := &fakeDMTransport{err: errors.New("connection reset by peer")}
	a := NewDirectMessageAdapter(tr, 0)

	out := a.Send(context.Background(), dmRecipient(), testDoc())
	if out.Code != TransientFailure {
		t.Fatalf("unrecognized errors must stay retryable, got %s", out.Code)
	}
}

func TestEmailAdapter_Success(t *testing.T) {
	tr := &fakeEmailTransport{}
	a := NewEmailAdapter(tr, 0)

	r := domain.Recipient{ID: uuid.New(), ContactAddress: "pat@example.com", ChannelPreference: domain.PreferEmail}
	out := a.Send(context.Background(), r, testDoc())
	if !out.IsSuccess() {
		t.Fatalf("expected success, got %+v", out)
	}
	if tr.calls != 1 {
		t.Errorf("expected exactly 1 transport call, got %d", tr.calls)
	}
}

func TestEmailAdapter_WrappedErrorClassified(t *testing.T) {
	wrapped := &PermanentError{Reason: "content rejected", Err: errors.New("mime too large")}
	tr := &fakeEmailTransport{err: wrapped}
	a := NewEmailAdapter(tr, 0)

	r := domain.Recipient{ID: uuid.New(), ContactAddress: "pat@example.com"}
	out := a.Send(context.Background(), r, testDoc())
	if out.Code != PermanentFailure {
		t.Fatalf("expected permanent failure, got %s", out.Code)
	}
	if out.Reason == "" {
		t.Error("expected failure reason surfaced")
	}
}

func TestSESTransport_RejectsMalformedAddressLocally(t *testing.T) {
	// No client configured: a transport call would panic, proving the
	// malformed address never reaches the wire.
	tr := &SESTransport{from: "minutes@example.com"}
	_, err := tr.SendMail(context.Background(), "not-an-address", "s", "<p/>", "t")

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
}

func TestTelegramTransport_RejectsMalformedIdentityLocally(t *testing.T) {
	tr := &TelegramTransport{}
	err := tr.PostMessage(context.Background(), "not-a-chat-id", "hello")

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
}

func TestClassify_Durations(t *testing.T) {
	start := time.Now().Add(-50 * time.Millisecond)
	out := classify(nil, start)
	if out.Duration < 50*time.Millisecond {
		t.Errorf("expected duration >= 50ms, got %s", out.Duration)
	}
}

func TestLimiter_DisabledBelowOne(t *testing.T) {
	if newLimiter(0) != nil {
		t.Error("expected nil limiter for 0 rate")
	}
	if newLimiter(-5) != nil {
		t.Error("expected nil limiter for negative rate")
	}
	if newLimiter(10) == nil {
		t.Error("expected limiter for positive rate")
	}
}
