// Package testutil provides shared test helpers for minutecast.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// Recipients builds n pending recipients sharing a channel preference, with
// sequential contact addresses.
func Recipients(n int, pref domain.ChannelPreference) []domain.Recipient {
	out := make([]domain.Recipient, n)
	for i := range out {
		out[i] = domain.Recipient{
			ID:                uuid.New(),
			ContactAddress:    fmt.Sprintf("recipient-%d@example.com", i),
			ChannelPreference: pref,
			DeliveryStatus:    domain.DeliveryStatusPending,
		}
	}
	return out
}

// Document returns a minimal rendered document for tests.
func Document() domain.Document {
	return domain.Document{
		MinutesID: uuid.New(),
		MeetingID: uuid.New(),
		Subject:   "Weekly sync minutes",
		HTMLBody:  "<p>Decisions and action items.</p>",
		TextBody:  "Decisions and action items.",
	}
}
