package webhooks

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/onboarding"
	"github.com/propline/onboarding/internal/tenant"
)

var eventTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func eventJSON(t *testing.T, id, typ string, object any) []byte {
	t.Helper()
	return eventJSONAt(t, id, typ, eventTime, object)
}

func eventJSONAt(t *testing.T, id, typ string, created time.Time, object any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     created.Unix(),
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestParse_PaymentOutcome(t *testing.T) {
	body := eventJSON(t, "evt_1", TypePaymentSucceeded, map[string]any{
		"id": "pi_1", "object": "payment_intent", "status": "succeeded",
		"metadata": map[string]string{"sessionToken": "tok_abc", "tier": "STARTER"},
	})

	evt, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pe, ok := evt.(PaymentOutcomeEvent)
	if !ok {
		t.Fatalf("expected PaymentOutcomeEvent, got %T", evt)
	}
	if pe.ID != "evt_1" || pe.IntentRef != "pi_1" || pe.SessionToken != "tok_abc" {
		t.Errorf("unexpected event: %+v", pe)
	}
	if pe.Status != onboarding.PaymentSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", pe.Status)
	}
	if !pe.Created.Equal(eventTime) {
		t.Errorf("expected created %v, got %v", eventTime, pe.Created)
	}

	failed, err := Parse(eventJSON(t, "evt_2", TypePaymentFailed, map[string]any{"id": "pi_1"}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := failed.(PaymentOutcomeEvent); got.Status != onboarding.PaymentFailed || got.SessionToken != "" {
		t.Errorf("unexpected failed event: %+v", got)
	}
}

func TestParse_Subscription(t *testing.T) {
	start, end := eventTime.Add(-time.Hour), eventTime.Add(30*24*time.Hour)

	tests := []struct {
		name       string
		typ        string
		object     map[string]any
		wantStatus tenant.SubscriptionStatus
		wantTier   billing.Tier
		wantCancel bool
	}{
		{
			name: "active with tier",
			typ:  TypeSubscriptionCreated,
			object: map[string]any{
				"id": "sub_1", "customer": "cus_1", "status": "active",
				"metadata":             map[string]string{"tier": "growth"},
				"current_period_start": start.Unix(), "current_period_end": end.Unix(),
			},
			wantStatus: tenant.SubscriptionActive,
			wantTier:   billing.TierGrowth,
		},
		{
			name: "past due without tier, expanded customer, item periods",
			typ:  TypeSubscriptionUpdated,
			object: map[string]any{
				"id": "sub_1", "customer": map[string]any{"id": "cus_1", "object": "customer"}, "status": "past_due",
				"items": map[string]any{"data": []map[string]any{
					{"current_period_start": start.Unix(), "current_period_end": end.Unix()},
				}},
			},
			wantStatus: tenant.SubscriptionInactive,
		},
		{
			name: "unknown tier ignored",
			typ:  TypeSubscriptionUpdated,
			object: map[string]any{
				"id": "sub_1", "customer": "cus_1", "status": "active",
				"metadata":           map[string]string{"tier": "PLATINUM"},
				"current_period_end": end.Unix(), "current_period_start": start.Unix(),
			},
			wantStatus: tenant.SubscriptionActive,
		},
		{
			name: "deleted",
			typ:  TypeSubscriptionDeleted,
			object: map[string]any{
				"id": "sub_1", "customer": "cus_1", "status": "canceled",
				"current_period_end": end.Unix(), "current_period_start": start.Unix(),
			},
			wantStatus: tenant.SubscriptionCancelled,
			wantCancel: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Parse(eventJSON(t, "evt_s", tt.typ, tt.object))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			se, ok := evt.(SubscriptionEvent)
			if !ok {
				t.Fatalf("expected SubscriptionEvent, got %T", evt)
			}
			ch := se.Change
			if ch.CustomerRef != "cus_1" || ch.SubscriptionRef != "sub_1" {
				t.Errorf("unexpected refs: %+v", ch)
			}
			if ch.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", ch.Status, tt.wantStatus)
			}
			if ch.Tier != tt.wantTier {
				t.Errorf("tier = %q, want %q", ch.Tier, tt.wantTier)
			}
			if ch.CancelAtPeriodEnd != tt.wantCancel {
				t.Errorf("cancelAtPeriodEnd = %v, want %v", ch.CancelAtPeriodEnd, tt.wantCancel)
			}
			if !ch.EventAt.Equal(eventTime) {
				t.Errorf("eventAt = %v, want %v", ch.EventAt, eventTime)
			}
			if ch.CurrentPeriodEnd == nil || !ch.CurrentPeriodEnd.Equal(end) {
				t.Errorf("currentPeriodEnd = %v, want %v", ch.CurrentPeriodEnd, end)
			}
		})
	}
}

func TestParse_Unhandled(t *testing.T) {
	evt, err := Parse(eventJSON(t, "evt_u", "invoice.paid", map[string]any{"id": "in_1"}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := evt.(UnhandledEvent); !ok {
		t.Fatalf("expected UnhandledEvent, got %T", evt)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("not json")},
		{"missing id", []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)},
		{"missing object", []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)},
		{"intent without id", eventJSON(t, "evt_1", TypePaymentSucceeded, map[string]any{"status": "succeeded"})},
		{"subscription without customer", eventJSON(t, "evt_1", TypeSubscriptionUpdated, map[string]any{"id": "sub_1", "status": "active"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.body)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}
