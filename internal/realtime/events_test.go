package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"donorlink.org/internal/domain"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		env     Envelope
		wantErr error
		check   func(t *testing.T, ev Event)
	}{
		{
			name: "contribution",
			env:  Envelope{Event: EventContributionStatus, Data: json.RawMessage(`{"contributionId":"42","status":"accepted"}`)},
			check: func(t *testing.T, ev Event) {
				e, ok := ev.(ContributionStatusUpdated)
				if !ok || e.Contribution.ID != "42" || e.Contribution.Status != domain.ContributionAccepted {
					t.Fatalf("unexpected event %#v", ev)
				}
			},
		},
		{
			name: "notification",
			env:  Envelope{Event: EventNotificationNew, Data: json.RawMessage(`{"_id":"n1","type":"ngo_blocked","message":"Blocked"}`)},
			check: func(t *testing.T, ev Event) {
				if e, ok := ev.(NotificationNew); !ok || e.Notification.ID != "n1" {
					t.Fatalf("unexpected event %#v", ev)
				}
			},
		},
		{
			name: "scoped stats",
			env:  Envelope{Event: "admin:stats:updated", Data: json.RawMessage(`{"pendingNgos":4}`)},
			check: func(t *testing.T, ev Event) {
				e, ok := ev.(StatsUpdated)
				if !ok || e.Stats.Scope != "admin" || e.Stats.Counters["pendingNgos"] != 4 {
					t.Fatalf("unexpected event %#v", ev)
				}
				if e.Name() != "admin:stats:updated" {
					t.Fatalf("name = %s", e.Name())
				}
			},
		},
		{name: "bare suffix", env: Envelope{Event: ":stats:updated", Data: json.RawMessage(`{}`)}, wantErr: ErrUnknownEvent},
		{name: "unknown", env: Envelope{Event: "contribution:deleted", Data: json.RawMessage(`{}`)}, wantErr: ErrUnknownEvent},
		{name: "missing status", env: Envelope{Event: EventContributionStatus, Data: json.RawMessage(`{"id":"1"}`)}, wantErr: ErrMalformedEvent},
		{name: "notification without id", env: Envelope{Event: EventNotificationNew, Data: json.RawMessage(`{"type":"x"}`)}, wantErr: ErrMalformedEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode(tc.env)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tc.check(t, ev)
		})
	}
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	env, err := Encode(ContributionStatusUpdated{Contribution: domain.Contribution{ID: "7", Status: domain.ContributionCompleted}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ev, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e := ev.(ContributionStatusUpdated); e.Contribution.ID != "7" || e.Contribution.Status != domain.ContributionCompleted {
		t.Fatalf("unexpected event %#v", e)
	}
}
