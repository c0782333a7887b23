package api

import (
	"encoding/json"
	"testing"
	"time"

	"donorlink.org/internal/domain"
)

func TestDecodeContributionAliases(t *testing.T) {
	c, ok := DecodeContribution(json.RawMessage(`{"_id":42,"status":"accepted","updated_at":"2026-03-01T10:00:00Z","ngo_id":"n1"}`))
	if !ok {
		t.Fatal("expected decode")
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if c.ID != "42" || c.Status != domain.ContributionAccepted || !c.UpdatedAt.Equal(want) || c.NGOID != "n1" {
		t.Fatalf("unexpected contribution %+v", c)
	}
	if _, ok := DecodeContribution(json.RawMessage(`{"status":"PENDING"}`)); ok {
		t.Fatal("contribution without id must be rejected")
	}
	if _, ok := DecodeContribution(json.RawMessage(`not json`)); ok {
		t.Fatal("malformed payload must be rejected")
	}
}

func TestDecodeNotificationAliases(t *testing.T) {
	n, ok := DecodeNotification(json.RawMessage(`{"id":"x","type":"ngo_approved","read":true,"created_at":1767225600000}`))
	if !ok || !n.IsRead || n.CreatedAt.IsZero() {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestDecodeNGOProfile(t *testing.T) {
	flat, _ := DecodeNGO(json.RawMessage(`{"id":"n1","city":"Pune","contactInfo":"999","pending_profile_update":{"city":"Mumbai"}}`))
	if flat.Profile.City != "Pune" || flat.Profile.PhoneNumber != "999" {
		t.Fatalf("flat profile not decoded: %+v", flat.Profile)
	}
	if flat.PendingProfileUpdate == nil || flat.PendingProfileUpdate.City != "Mumbai" {
		t.Fatalf("pending update not decoded: %+v", flat.PendingProfileUpdate)
	}
	nested, _ := DecodeNGO(json.RawMessage(`{"id":"n1","profile":{"city":"Delhi"}}`))
	if nested.Profile.City != "Delhi" || nested.PendingProfileUpdate != nil {
		t.Fatalf("nested profile not decoded: %+v", nested)
	}
}

func TestDecodeStats(t *testing.T) {
	nested, _ := DecodeStats(json.RawMessage(`{"scope":"admin","counters":{"pendingNgos":3}}`))
	flat, _ := DecodeStats(json.RawMessage(`{"scope":"donor","totalContributions":7,"updatedAt":"2026-01-01T00:00:00Z"}`))
	if nested.Counters["pendingNgos"] != 3 || nested.Scope != "admin" {
		t.Fatalf("nested counters: %+v", nested)
	}
	if flat.Counters["totalContributions"] != 7 || len(flat.Counters) != 1 || flat.UpdatedAt.IsZero() {
		t.Fatalf("flat counters: %+v", flat)
	}
}

func TestDecodeDashboardDropsItemsWithoutID(t *testing.T) {
	d, ok := DecodeDashboard(json.RawMessage(`{
		"contributions":[{"id":"1","status":"PENDING"},{"status":"ACCEPTED"}],
		"notifications":[{"_id":"n","type":"t","isRead":false}],
		"profile":{"id":"ngo","verification_status":"VERIFIED"}
	}`))
	if !ok {
		t.Fatal("expected decode")
	}
	if len(d.Contributions) != 1 || len(d.Notifications) != 1 || d.Profile == nil || d.Stats != nil {
		t.Fatalf("unexpected dashboard %+v", d)
	}
}
