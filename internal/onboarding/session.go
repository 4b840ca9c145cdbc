// Package onboarding owns the signup wizard's server-side session.
//
// Lifecycle:
//  1. Create issues a 64-hex bearer token valid for 24 hours.
//  2. UpdateStep merges one step's fields; currentStep never moves back.
//  3. Bridge.CreatePaymentIntent opens a payment for priced tiers.
//  4. Webhooks move paymentStatus PENDING → SUCCEEDED | FAILED.
//  5. Complete provisions the organization and closes the session.
//
// A session may be mutated only while now < expiresAt and it is not
// completed. Every mutation is a single conditional write in the store.
package onboarding

import (
	"errors"
	"time"

	"github.com/propline/onboarding/internal/billing"
)

const (
	// TotalSteps is fixed: organization, plan, payment, review.
	TotalSteps = 4

	// SessionTTL is measured from creation and never extended.
	SessionTTL = 24 * time.Hour
)

var (
	ErrInvalidToken            = errors.New("onboarding: invalid session token")
	ErrSessionExpired          = errors.New("onboarding: session expired")
	ErrSessionAlreadyCompleted = errors.New("onboarding: session already completed")
	ErrInvalidStep             = errors.New("onboarding: invalid step")
	ErrInvalidStepData         = errors.New("onboarding: invalid step data")
	ErrOrgNameRequired         = errors.New("onboarding: organization name is required")
	ErrTierRequired            = errors.New("onboarding: subscription tier is required")
	ErrPaymentRequired         = errors.New("onboarding: payment required to complete onboarding")
	ErrPlanMismatch            = errors.New("onboarding: plan does not match the selected tier")
	ErrPaymentAlreadySucceeded = errors.New("onboarding: payment already succeeded")
	ErrPlanLocked              = errors.New("onboarding: plan cannot change after payment succeeded")

	// ErrNotFound and ErrConditionFailed are returned by stores; the service
	// maps them onto the session-state errors above.
	ErrNotFound        = errors.New("onboarding: session not found")
	ErrConditionFailed = errors.New("onboarding: session not mutable")
)

// PaymentStatus tracks the payment attached to a session.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Terminal reports whether webhooks may no longer change the status.
func (p PaymentStatus) Terminal() bool {
	return p == PaymentSucceeded || p == PaymentFailed
}

// Session is one onboarding attempt. Token is the only external handle.
type Session struct {
	ID               string               `json:"-"`
	Token            string               `json:"sessionToken"`
	CurrentStep      int                  `json:"currentStep"`
	TotalSteps       int                  `json:"totalSteps"`
	OrgName          string               `json:"orgName,omitempty"`
	OrgWebsite       string               `json:"orgWebsite,omitempty"`
	OrgDescription   string               `json:"orgDescription,omitempty"`
	SelectedTier     billing.Tier         `json:"selectedTier,omitempty"`
	BillingCycle     billing.BillingCycle `json:"billingCycle,omitempty"`
	PaymentIntentRef string               `json:"paymentIntentId,omitempty"`
	PaymentStatus    PaymentStatus        `json:"paymentStatus,omitempty"`
	PaymentTier      billing.Tier         `json:"-"`
	PaymentCycle     billing.BillingCycle `json:"-"`
	CustomerRef      string               `json:"-"`
	IsCompleted      bool                 `json:"isCompleted"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
	OrganizationID   string               `json:"organizationId,omitempty"`
	UserID           string               `json:"userId,omitempty"`
	ExpiresAt        time.Time            `json:"expiresAt"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Mutable reports whether s may still be written at now.
func (s *Session) Mutable(now time.Time) bool {
	return !s.IsCompleted && now.Before(s.ExpiresAt)
}

// PlanPaid reports whether a succeeded payment covers the selected tier and
// billing cycle. An unset cycle is billed monthly.
func (s *Session) PlanPaid() bool {
	return s.PaymentStatus == PaymentSucceeded &&
		s.PaymentTier == s.SelectedTier &&
		cycleOrMonthly(s.PaymentCycle) == cycleOrMonthly(s.BillingCycle)
}

func cycleOrMonthly(c billing.BillingCycle) billing.BillingCycle {
	if c == "" {
		return billing.CycleMonthly
	}
	return c
}

// Outcome classifies a token lookup.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeNotFound
	OutcomeCompleted
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeCompleted:
		return "completed"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for o, or nil for OutcomeValid.
func (o Outcome) Err() error {
	switch o {
	case OutcomeValid:
		return nil
	case OutcomeNotFound:
		return ErrInvalidToken
	case OutcomeCompleted:
		return ErrSessionAlreadyCompleted
	case OutcomeExpired:
		return ErrSessionExpired
	default:
		return ErrInvalidToken
	}
}

// Evaluate classifies s at now. Completion is checked before expiry: a
// completed session reports completion for the rest of its life.
func Evaluate(s *Session, now time.Time) Outcome {
	switch {
	case s == nil:
		return OutcomeNotFound
	case s.IsCompleted:
		return OutcomeCompleted
	case !now.Before(s.ExpiresAt):
		return OutcomeExpired
	default:
		return OutcomeValid
	}
}

// ValidationError describes a rejected step field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "onboarding: invalid step data: " + e.Message
	}
	return "onboarding: invalid step data: " + e.Field + " " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidStepData }
