package queue

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/domain"
)

// DistributionMessage is the wire format for distribution requests
// published by the minutes pipeline.
type DistributionMessage struct {
	MinutesID string `json:"minutes_id"`
	MeetingID string `json:"meeting_id"`

	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`

	Recipients []RecipientMessage `json:"recipients"`

	MaxRetries int    `json:"max_retries,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

type RecipientMessage struct {
	ContactAddress string `json:"contact_address"`
	Channel        string `json:"channel"`
}

// ToDomain converts the message into engine inputs, rejecting anything
// the engine could not accept.
func (m DistributionMessage) ToDomain() (domain.Document, []domain.Recipient, domain.JobOptions, error) {
	minutesID, err := uuid.Parse(m.MinutesID)
	if err != nil {
		return domain.Document{}, nil, domain.JobOptions{}, fmt.Errorf("invalid minutes_id: %w", err)
	}
	meetingID, err := uuid.Parse(m.MeetingID)
	if err != nil {
		return domain.Document{}, nil, domain.JobOptions{}, fmt.Errorf("invalid meeting_id: %w", err)
	}

	doc := domain.Document{
		MinutesID: minutesID,
		MeetingID: meetingID,
		Subject:   m.Subject,
		HTMLBody:  m.HTMLBody,
		TextBody:  m.TextBody,
	}

	recipients := make([]domain.Recipient, len(m.Recipients))
	for i, rec := range m.Recipients {
		pref := domain.ChannelPreference(rec.Channel)
		if !pref.Valid() {
			return domain.Document{}, nil, domain.JobOptions{}, fmt.Errorf("recipient %d: invalid channel %q", i, rec.Channel)
		}
		recipients[i] = domain.Recipient{
			ContactAddress:    rec.ContactAddress,
			ChannelPreference: pref,
		}
	}

	opts := domain.JobOptions{
		MaxRetries: m.MaxRetries,
		Priority:   domain.Priority(m.Priority),
	}

	return doc, recipients, opts, nil
}
