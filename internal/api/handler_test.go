package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/coordinator"
	"github.com/minutecast/minutecast/internal/domain"
	"github.com/minutecast/minutecast/internal/tracker"
)

type fakeEngine struct {
	submitID  uuid.UUID
	submitErr error

	statusJob domain.Job
	statusErr error

	cancelErr error
	cancelled []uuid.UUID

	lastDoc  domain.Document
	lastRecs []domain.Recipient
	lastOpts domain.JobOptions
}

func (e *fakeEngine) Submit(_ context.Context, doc domain.Document, recs []domain.Recipient, opts domain.JobOptions) (uuid.UUID, error) {
	e.lastDoc = doc
	e.lastRecs = recs
	e.lastOpts = opts
	return e.submitID, e.submitErr
}

func (e *fakeEngine) Status(uuid.UUID) (domain.Job, error) {
	return e.statusJob, e.statusErr
}

func (e *fakeEngine) Cancel(jobID uuid.UUID) error {
	e.cancelled = append(e.cancelled, jobID)
	return e.cancelErr
}

type fakeAttemptLister struct {
	attempts []domain.SendAttempt
	err      error
}

func (l *fakeAttemptLister) ListAttempts(context.Context, uuid.UUID, int, int) ([]domain.SendAttempt, error) {
	return l.attempts, l.err
}

func validBody() string {
	return fmt.Sprintf(`{
		"minutes_id": %q,
		"meeting_id": %q,
		"subject": "Weekly sync minutes",
		"text_body": "Decisions and action items.",
		"recipients": [
			{"contact_address": "alice@example.com", "channel": "email"},
			{"contact_address": "8812734", "channel": "both"}
		]
	}`, uuid.New(), uuid.New())
}

func doRequest(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateDistribution_Accepted(t *testing.T) {
	engine := &fakeEngine{submitID: uuid.New()}
	h := NewHandler(engine)

	rec := doRequest(h, http.MethodPost, "/distributions", validBody())

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp CreateDistributionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != engine.submitID.String() {
		t.Errorf("job_id = %s, want %s", resp.JobID, engine.submitID)
	}
	if len(engine.lastRecs) != 2 {
		t.Fatalf("engine received %d recipients, want 2", len(engine.lastRecs))
	}
	if engine.lastRecs[1].ChannelPreference != domain.PreferBoth {
		t.Errorf("recipient channel = %s, want both", engine.lastRecs[1].ChannelPreference)
	}
	if engine.lastDoc.Subject != "Weekly sync minutes" {
		t.Errorf("doc subject = %q", engine.lastDoc.Subject)
	}
}

func TestCreateDistribution_InvalidJSON(t *testing.T) {
	h := NewHandler(&fakeEngine{})
	rec := doRequest(h, http.MethodPost, "/distributions", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateDistribution_Validation(t *testing.T) {
	base := func() CreateDistributionRequest {
		return CreateDistributionRequest{
			MinutesID: uuid.NewString(),
			MeetingID: uuid.NewString(),
			Subject:   "Minutes",
			TextBody:  "body",
			Recipients: []RecipientRequest{
				{ContactAddress: "alice@example.com", Channel: "email"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateDistributionRequest)
		wantErr string
	}{
		{"missing minutes_id", func(r *CreateDistributionRequest) { r.MinutesID = "" }, "minutes_id"},
		{"malformed minutes_id", func(r *CreateDistributionRequest) { r.MinutesID = "nope" }, "minutes_id"},
		{"missing meeting_id", func(r *CreateDistributionRequest) { r.MeetingID = "" }, "meeting_id"},
		{"missing subject", func(r *CreateDistributionRequest) { r.Subject = "" }, "subject"},
		{"missing body", func(r *CreateDistributionRequest) { r.TextBody = "" }, "body"},
		{"no recipients", func(r *CreateDistributionRequest) { r.Recipients = nil }, "recipients"},
		{"missing contact", func(r *CreateDistributionRequest) { r.Recipients[0].ContactAddress = "" }, "contact_address"},
		{"bad channel", func(r *CreateDistributionRequest) { r.Recipients[0].Channel = "fax" }, "channel"},
		{"negative retries", func(r *CreateDistributionRequest) { r.MaxRetries = -2 }, "max_retries"},
		{"bad priority", func(r *CreateDistributionRequest) { r.Priority = "asap" }, "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			body, _ := json.Marshal(req)

			h := NewHandler(&fakeEngine{submitID: uuid.New()})
			rec := doRequest(h, http.MethodPost, "/distributions", string(body))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantErr) {
				t.Errorf("body = %s, want mention of %q", rec.Body.String(), tt.wantErr)
			}
		})
	}
}

func TestCreateDistribution_EngineRejects(t *testing.T) {
	engine := &fakeEngine{submitErr: fmt.Errorf("%w: nope", coordinator.ErrInvalidRequest)}
	h := NewHandler(engine)

	rec := doRequest(h, http.MethodPost, "/distributions", validBody())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateDistribution_EngineError(t *testing.T) {
	engine := &fakeEngine{submitErr: errors.New("boom")}
	h := NewHandler(engine)

	rec := doRequest(h, http.MethodPost, "/distributions", validBody())
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetDistribution(t *testing.T) {
	deliveredAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	job := domain.Job{
		ID:        uuid.New(),
		MinutesID: uuid.New(),
		MeetingID: uuid.New(),
		Status:    domain.JobStatusPartiallyCompleted,
		Priority:  domain.PriorityNormal,
		CreatedAt: time.Date(2025, 6, 1, 9, 59, 0, 0, time.UTC),
		Recipients: []domain.Recipient{
			{
				ID:                uuid.New(),
				ContactAddress:    "alice@example.com",
				ChannelPreference: domain.PreferEmail,
				DeliveryStatus:    domain.DeliveryStatusDelivered,
				DeliveredAt:       &deliveredAt,
				RetryCount:        1,
			},
			{
				ID:                uuid.New(),
				ContactAddress:    "bob@example.com",
				ChannelPreference: domain.PreferEmail,
				DeliveryStatus:    domain.DeliveryStatusFailed,
				RetryCount:        3,
				LastError:         "mailbox full",
			},
		},
	}
	h := NewHandler(&fakeEngine{statusJob: job})

	rec := doRequest(h, http.MethodGet, "/distributions/"+job.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp DistributionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "partially_completed" {
		t.Errorf("status = %s, want partially_completed", resp.Status)
	}
	if len(resp.Recipients) != 2 {
		t.Fatalf("recipients = %d, want 2", len(resp.Recipients))
	}
	if resp.Recipients[0].DeliveredAt != "2025-06-01T10:00:00Z" {
		t.Errorf("delivered_at = %q", resp.Recipients[0].DeliveredAt)
	}
	if resp.Recipients[1].LastError != "mailbox full" {
		t.Errorf("last_error = %q", resp.Recipients[1].LastError)
	}
}

func TestGetDistribution_NotFound(t *testing.T) {
	h := NewHandler(&fakeEngine{statusErr: tracker.ErrJobNotFound})
	rec := doRequest(h, http.MethodGet, "/distributions/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetDistribution_BadID(t *testing.T) {
	h := NewHandler(&fakeEngine{})
	rec := doRequest(h, http.MethodGet, "/distributions/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCancelDistribution(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(engine)
	jobID := uuid.New()

	rec := doRequest(h, http.MethodDelete, "/distributions/"+jobID.String(), "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(engine.cancelled) != 1 || engine.cancelled[0] != jobID {
		t.Errorf("engine cancelled %v, want [%s]", engine.cancelled, jobID)
	}
}

func TestCancelDistribution_Terminal(t *testing.T) {
	h := NewHandler(&fakeEngine{cancelErr: coordinator.ErrJobTerminal})
	rec := doRequest(h, http.MethodDelete, "/distributions/"+uuid.NewString(), "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestCancelDistribution_NotFound(t *testing.T) {
	h := NewHandler(&fakeEngine{cancelErr: tracker.ErrJobNotFound})
	rec := doRequest(h, http.MethodDelete, "/distributions/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListAttempts(t *testing.T) {
	lister := &fakeAttemptLister{
		attempts: []domain.SendAttempt{
			{
				ID:          uuid.New(),
				JobID:       uuid.New(),
				RecipientID: uuid.New(),
				Channel:     domain.ChannelEmail,
				Attempt:     0,
				Outcome:     domain.AttemptTransientFailure,
				Error:       "throttled",
				StartedAt:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
				Duration:    150 * time.Millisecond,
			},
		},
	}
	h := NewHandler(&fakeEngine{}).WithAttemptLister(lister)

	rec := doRequest(h, http.MethodGet, "/distributions/"+uuid.NewString()+"/attempts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ListAttemptsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(resp.Attempts))
	}
	if resp.Attempts[0].Outcome != "transient_failure" {
		t.Errorf("outcome = %s", resp.Attempts[0].Outcome)
	}
	if resp.Attempts[0].DurationMS != 150 {
		t.Errorf("duration_ms = %d, want 150", resp.Attempts[0].DurationMS)
	}
}

func TestListAttempts_Disabled(t *testing.T) {
	h := NewHandler(&fakeEngine{})
	rec := doRequest(h, http.MethodGet, "/distributions/"+uuid.NewString()+"/attempts", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when lister not configured", rec.Code)
	}
}

func TestListAttempts_BadPagination(t *testing.T) {
	h := NewHandler(&fakeEngine{}).WithAttemptLister(&fakeAttemptLister{})

	for _, q := range []string{"?limit=-1", "?limit=5000", "?offset=-1", "?limit=abc"} {
		rec := doRequest(h, http.MethodGet, "/distributions/"+uuid.NewString()+"/attempts"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestHealth_Simple(t *testing.T) {
	h := NewHandler(&fakeEngine{})
	rec := doRequest(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestHealth_VerboseDegraded(t *testing.T) {
	h := NewHandler(&fakeEngine{}).WithHealthChecker(fakePinger{err: errors.New("connection refused")})

	rec := doRequest(h, http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := NewHandler(&fakeEngine{}).WithHealthChecker(fakePinger{})

	rec := doRequest(h, http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
