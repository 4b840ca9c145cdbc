package onboarding

import (
	"context"
	"time"

	"github.com/propline/onboarding/internal/billing"
)

// IntentAttachment is the compare-and-set written once the processor has
// confirmed a payment intent.
type IntentAttachment struct {
	ExpectedRef string // payment intent ref the caller read; "" if none
	IntentRef   string
	CustomerRef string

	// Plan the intent charges for.
	Tier  billing.Tier
	Cycle billing.BillingCycle
}

// Store persists onboarding sessions keyed by token. Every write is a single
// conditional statement evaluated against now: it applies only while the
// session is unexpired and not completed.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)

	// UpdateStep writes the non-nil patch fields and raises currentStep to
	// at least step. Returns ErrConditionFailed if the session is not mutable
	// or the patch changes the plan of a session whose payment succeeded.
	UpdateStep(ctx context.Context, token string, step int, patch StepPatch, now time.Time) (*Session, error)

	// SetCustomerRef records the processor customer if none is stored yet.
	SetCustomerRef(ctx context.Context, token, customerRef string, now time.Time) (bool, error)

	// AttachPaymentIntent stores a new intent ref and its plan with status
	// PENDING if the stored ref still equals ExpectedRef and payment has not
	// succeeded.
	AttachPaymentIntent(ctx context.Context, token string, att IntentAttachment, now time.Time) (bool, error)

	// SetPaymentStatus moves a non-terminal payment to status, provided the
	// stored ref is empty or equals intentRef. A success for an intent that
	// was never attached pays for the plan selected at that moment.
	SetPaymentStatus(ctx context.Context, token, intentRef string, status PaymentStatus, now time.Time) (bool, error)

	// MarkCompleted closes the session. Returns ErrConditionFailed if the
	// session is not mutable.
	MarkCompleted(ctx context.Context, token, organizationID string, now time.Time) (*Session, error)

	// DeleteExpired removes expired sessions that were never completed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
