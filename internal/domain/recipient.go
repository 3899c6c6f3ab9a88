package domain

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelDirectMessage Channel = "direct_message"
	ChannelEmail         Channel = "email"
)

type ChannelPreference string

const (
	PreferDirectMessage ChannelPreference = "direct_message"
	PreferEmail         ChannelPreference = "email"
	PreferBoth          ChannelPreference = "both"
)

// Channels returns the channels to attempt, in order. A recipient preferring
// both gets direct message first with email as the fallback.
func (p ChannelPreference) Channels() []Channel {
	switch p {
	case PreferDirectMessage:
		return []Channel{ChannelDirectMessage}
	case PreferEmail:
		return []Channel{ChannelEmail}
	case PreferBoth:
		return []Channel{ChannelDirectMessage, ChannelEmail}
	}
	return nil
}

func (p ChannelPreference) Valid() bool {
	return len(p.Channels()) > 0
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// IsTerminal reports whether the recipient's delivery is settled.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// Recipient is one delivery target within a job. ContactAddress is
// channel-specific: a chat identity for direct message, a mailbox for email.
type Recipient struct {
	ID                uuid.UUID
	ContactAddress    string
	ChannelPreference ChannelPreference

	DeliveryStatus DeliveryStatus
	DeliveredAt    *time.Time
	RetryCount     int
	LastError      string
}
