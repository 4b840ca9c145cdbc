package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/onboarding"
	"github.com/propline/onboarding/internal/tenant"
	"github.com/stripe/stripe-go/v81"
)

// Event types this service reconciles.
const (
	TypePaymentSucceeded    = "payment_intent.succeeded"
	TypePaymentFailed       = "payment_intent.payment_failed"
	TypeSubscriptionCreated = "customer.subscription.created"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// Envelope is the part every event shares.
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

// Event is one of PaymentOutcomeEvent, SubscriptionEvent or UnhandledEvent.
type Event interface {
	envelope() Envelope
}

// PaymentOutcomeEvent reports that a payment intent reached a terminal state.
type PaymentOutcomeEvent struct {
	Envelope
	IntentRef    string
	SessionToken string // empty when the intent was not created by onboarding
	Status       onboarding.PaymentStatus
}

// SubscriptionEvent reports a subscription's current state.
type SubscriptionEvent struct {
	Envelope
	Change tenant.SubscriptionChange
}

// UnhandledEvent is any other verified event. It is acknowledged and dropped.
type UnhandledEvent struct {
	Envelope
}

func (e Envelope) envelope() Envelope { return e }

type paymentIntentObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type subscriptionPeriod struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type subscriptionObject struct {
	ID       string            `json:"id"`
	Customer json.RawMessage   `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	subscriptionPeriod
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
	Items             struct {
		Data []subscriptionPeriod `json:"data"`
	} `json:"items"`
}

// Parse decodes a verified payload into an Event. Unknown event types
// yield UnhandledEvent; a known type whose object cannot be decoded is
// ErrMalformedPayload.
func Parse(payload []byte) (Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}
	env := Envelope{ID: raw.ID, Type: string(raw.Type), Created: time.Unix(raw.Created, 0).UTC()}

	switch env.Type {
	case TypePaymentSucceeded, TypePaymentFailed:
		var obj paymentIntentObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%w: payment intent without id", ErrMalformedPayload)
		}
		status := onboarding.PaymentSucceeded
		if env.Type == TypePaymentFailed {
			status = onboarding.PaymentFailed
		}
		return PaymentOutcomeEvent{
			Envelope:     env,
			IntentRef:    obj.ID,
			SessionToken: obj.Metadata[billing.MetaSessionToken],
			Status:       status,
		}, nil

	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var obj subscriptionObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		customer, err := customerID(obj.Customer)
		if err != nil {
			return nil, err
		}
		return SubscriptionEvent{Envelope: env, Change: subscriptionChange(env, customer, obj)}, nil

	default:
		return UnhandledEvent{Envelope: env}, nil
	}
}

func decodeObject(raw stripe.Event, v any) error {
	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s without data.object", ErrMalformedPayload, raw.Type)
	}
	if err := json.Unmarshal(raw.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: %s object: %v", ErrMalformedPayload, raw.Type, err)
	}
	return nil
}

// customerID accepts both the plain ID and an expanded customer object.
func customerID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
		return obj.ID, nil
	}
	return "", fmt.Errorf("%w: subscription without customer", ErrMalformedPayload)
}

func subscriptionChange(env Envelope, customer string, obj subscriptionObject) tenant.SubscriptionChange {
	ch := tenant.SubscriptionChange{
		CustomerRef:       customer,
		SubscriptionRef:   obj.ID,
		Status:            tenant.SubscriptionInactive,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
		EventAt:           env.Created,
	}
	switch {
	case env.Type == TypeSubscriptionDeleted:
		ch.Status = tenant.SubscriptionCancelled
		ch.CancelAtPeriodEnd = true
	case obj.Status == "active":
		ch.Status = tenant.SubscriptionActive
	}
	if tier, ok := billing.ParseTier(obj.Metadata[billing.MetaTier]); ok {
		ch.Tier = tier
	}

	// Newer API versions report the billing period per item.
	period := obj.subscriptionPeriod
	if period.CurrentPeriodEnd == 0 && len(obj.Items.Data) > 0 {
		period = obj.Items.Data[0]
	}
	ch.CurrentPeriodStart = unixTime(period.CurrentPeriodStart)
	ch.CurrentPeriodEnd = unixTime(period.CurrentPeriodEnd)
	return ch
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
