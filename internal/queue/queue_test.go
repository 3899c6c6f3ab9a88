package queue

import (
	"reflect"
	"strings"
	"testing"

	"github.com/minutecast/minutecast/internal/domain"
)

func validMessage() DistributionMessage {
	return DistributionMessage{
		MinutesID: "0b80b3b4-6f41-40a4-a3c8-91d6c0f0a6be",
		MeetingID: "6c2f3a7e-8a3f-4a0e-9d4a-2f4b6d8e1c3a",
		Subject:   "Weekly sync minutes",
		TextBody:  "Decisions and action items.",
		Recipients: []RecipientMessage{
			{ContactAddress: "ana@example.com", Channel: "email"},
			{ContactAddress: "@bruno", Channel: "direct_message"},
		},
		MaxRetries: 2,
		Priority:   "high",
	}
}

func TestToDomain(t *testing.T) {
	doc, recipients, opts, err := validMessage().ToDomain()
	if err != nil {
		t.Fatalf("ToDomain: %v", err)
	}
	if doc.Subject != "Weekly sync minutes" || doc.TextBody == "" {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.MinutesID.String() != "0b80b3b4-6f41-40a4-a3c8-91d6c0f0a6be" {
		t.Errorf("minutes id = %s", doc.MinutesID)
	}
	want := []domain.Recipient{
		{ContactAddress: "ana@example.com", ChannelPreference: domain.PreferEmail},
		{ContactAddress: "@bruno", ChannelPreference: domain.PreferDirectMessage},
	}
	if !reflect.DeepEqual(recipients, want) {
		t.Errorf("recipients = %+v, want %+v", recipients, want)
	}
	if opts.MaxRetries != 2 || opts.Priority != domain.PriorityHigh {
		t.Errorf("options = %+v", opts)
	}
}

func TestToDomainRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DistributionMessage)
		wantErr string
	}{
		{
			name:    "bad minutes id",
			mutate:  func(m *DistributionMessage) { m.MinutesID = "not-a-uuid" },
			wantErr: "minutes_id",
		},
		{
			name:    "bad meeting id",
			mutate:  func(m *DistributionMessage) { m.MeetingID = "" },
			wantErr: "meeting_id",
		},
		{
			name:    "bad channel",
			mutate:  func(m *DistributionMessage) { m.Recipients[1].Channel = "carrier_pigeon" },
			wantErr: "invalid channel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validMessage()
			tt.mutate(&msg)
			if _, _, _, err := msg.ToDomain(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"localhost:9092", []string{"localhost:9092"}},
		{"a:9092, b:9092 ,c:9092", []string{"a:9092", "b:9092", "c:9092"}},
		{" , ", []string{}},
	}
	for _, tt := range tests {
		got := SplitBrokers(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("SplitBrokers(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitBrokers(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
