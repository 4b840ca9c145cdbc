package billing

import (
	"context"
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when recent processor failures have tripped
// the circuit breaker and calls are being shed.
var ErrCircuitOpen = errors.New("billing: payment processor unavailable")

// Intent status values reported by the processor.
const (
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentProcessing            = "processing"
	IntentSucceeded             = "succeeded"
	IntentCanceled              = "canceled"
)

// Metadata keys attached to every onboarding payment intent.
const (
	MetaSessionToken = "sessionToken"
	MetaTier         = "tier"
	MetaBillingCycle = "billingCycle"
)

// Intent is the processor-neutral view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
	CustomerRef  string
	Metadata     map[string]string
}

// Open reports whether the intent can still be paid.
func (i *Intent) Open() bool {
	return i.Status != IntentSucceeded && i.Status != IntentCanceled
}

// IntentRequest describes a payment intent to create.
type IntentRequest struct {
	Amount         int64
	Currency       string
	CustomerRef    string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// CustomerRequest describes a processor customer to create.
type CustomerRequest struct {
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

// Processor is the outbound port to the payment provider.
type Processor interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, ref string) (*Intent, error)
	CancelIntent(ctx context.Context, ref string) error
}

// ProcessorError wraps a failed processor call with its retry classification.
type ProcessorError struct {
	Op         string
	StatusCode int
	Code       string
	Transient  bool
	Err        error
}

func (e *ProcessorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing: %s failed (%d %s): %v", e.Op, e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("billing: %s failed: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
