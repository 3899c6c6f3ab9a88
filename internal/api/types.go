package api

import "time"

type CreateDistributionRequest struct {
	MinutesID string `json:"minutes_id"`
	MeetingID string `json:"meeting_id"`

	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`

	Recipients []RecipientRequest `json:"recipients"`

	MaxRetries int    `json:"max_retries,omitempty"` // default 3
	Priority   string `json:"priority,omitempty"`    // "normal" or "high"
}

type RecipientRequest struct {
	ContactAddress string `json:"contact_address"`
	Channel        string `json:"channel"` // "direct_message", "email", or "both"
}

type CreateDistributionResponse struct {
	JobID string `json:"job_id"`
}

type DistributionResponse struct {
	JobID       string              `json:"job_id"`
	MinutesID   string              `json:"minutes_id"`
	MeetingID   string              `json:"meeting_id"`
	Status      string              `json:"status"`
	Priority    string              `json:"priority"`
	RetryCount  int                 `json:"retry_count"`
	LastError   string              `json:"last_error,omitempty"`
	Recipients  []RecipientResponse `json:"recipients"`
	CreatedAt   string              `json:"created_at"`
	CompletedAt string              `json:"completed_at,omitempty"`
}

type RecipientResponse struct {
	ID             string `json:"id"`
	ContactAddress string `json:"contact_address"`
	Channel        string `json:"channel"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	LastError      string `json:"last_error,omitempty"`
	DeliveredAt    string `json:"delivered_at,omitempty"`
}

type AttemptResponse struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel"`
	Attempt     int    `json:"attempt"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	DurationMS  int64  `json:"duration_ms"`
}

type ListAttemptsResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
