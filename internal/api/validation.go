package api

import (
	"fmt"

	"github.com/google/uuid"
)

func validateCreateDistribution(req CreateDistributionRequest) error {
	if req.MinutesID == "" {
		return fmt.Errorf("minutes_id is required")
	}
	if _, err := uuid.Parse(req.MinutesID); err != nil {
		return fmt.Errorf("invalid minutes_id: %w", err)
	}

	if req.MeetingID == "" {
		return fmt.Errorf("meeting_id is required")
	}
	if _, err := uuid.Parse(req.MeetingID); err != nil {
		return fmt.Errorf("invalid meeting_id: %w", err)
	}

	if req.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if req.HTMLBody == "" && req.TextBody == "" {
		return fmt.Errorf("html_body or text_body is required")
	}

	if len(req.Recipients) == 0 {
		return fmt.Errorf("recipients is required")
	}
	for i, rec := range req.Recipients {
		if rec.ContactAddress == "" {
			return fmt.Errorf("recipients[%d]: contact_address is required", i)
		}
		switch rec.Channel {
		case "direct_message", "email", "both":
		default:
			return fmt.Errorf("recipients[%d]: channel must be 'direct_message', 'email', or 'both', got %q", i, rec.Channel)
		}
	}

	if req.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	switch req.Priority {
	case "", "normal", "high":
	default:
		return fmt.Errorf("priority must be 'normal' or 'high', got %q", req.Priority)
	}

	return nil
}
