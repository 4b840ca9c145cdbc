package billing

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/propline/onboarding/internal/circuitbreaker"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

const breakerKey = "stripe"

// StripeConfig configures the Stripe processor.
type StripeConfig struct {
	SecretKey string
	Timeout   time.Duration // per HTTP call
	BaseURL   string        // optional override, used by tests
	Logger    *slog.Logger
	Breaker   *circuitbreaker.Breaker // optional
}

// StripeProcessor implements Processor against the Stripe API.
type StripeProcessor struct {
	intents   paymentintent.Client
	customers customer.Client
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
}

// NewStripeProcessor builds a processor with its own backend so the API key
// and HTTP timeout are not taken from stripe-go's package globals. Network
// retries are disabled; callers decide what to retry.
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeProcessor{
		intents:   paymentintent.Client{B: backend, Key: cfg.SecretKey},
		customers: customer.Client{B: backend, Key: cfg.SecretKey},
		breaker:   cfg.Breaker,
		logger:    logger.With("processor", "stripe"),
	}
}

// CreateCustomer creates a Stripe customer and returns its ID.
func (s *StripeProcessor) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var cus *stripe.Customer
	err := s.call("create_customer", func() error {
		var err error
		cus, err = s.customers.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("created customer", "customer_id", cus.ID)
	return cus.ID, nil
}

// CreateIntent creates a PaymentIntent with automatic payment methods.
func (s *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var pi *stripe.PaymentIntent
	err := s.call("create_intent", func() error {
		var err error
		pi, err = s.intents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("created payment intent", "intent_id", pi.ID, "amount", pi.Amount)
	return toIntent(pi), nil
}

// GetIntent retrieves a PaymentIntent by ID.
func (s *StripeProcessor) GetIntent(ctx context.Context, ref string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := s.call("get_intent", func() error {
		var err error
		pi, err = s.intents.Get(ref, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

// CancelIntent cancels an unpaid PaymentIntent.
func (s *StripeProcessor) CancelIntent(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	return s.call("cancel_intent", func() error {
		_, err := s.intents.Cancel(ref, params)
		return err
	})
}

// call runs fn behind the circuit breaker and classifies its error.
func (s *StripeProcessor) call(op string, fn func() error) error {
	if s.breaker != nil && !s.breaker.Allow(breakerKey) {
		return &ProcessorError{Op: op, Transient: true, Err: ErrCircuitOpen}
	}
	err := fn()
	if err == nil {
		if s.breaker != nil {
			s.breaker.RecordSuccess(breakerKey)
		}
		return nil
	}

	pe := classify(op, err)
	if s.breaker != nil && pe.Transient {
		s.breaker.RecordFailure(breakerKey)
	}
	s.logger.Warn("stripe call failed",
		"op", op, "status", pe.StatusCode, "code", pe.Code, "transient", pe.Transient, "error", err)
	return pe
}

func classify(op string, err error) *ProcessorError {
	pe := &ProcessorError{Op: op, Err: err}

	var serr *stripe.Error
	if errors.As(err, &serr) {
		pe.StatusCode = serr.HTTPStatusCode
		pe.Code = string(serr.Code)
		pe.Transient = serr.HTTPStatusCode == http.StatusTooManyRequests ||
			serr.HTTPStatusCode >= http.StatusInternalServerError ||
			serr.Type == stripe.ErrorTypeAPI
		return pe
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		pe.Transient = true
	case errors.Is(err, context.Canceled):
		pe.Transient = false
	default:
		// Errors without a Stripe envelope are transport failures.
		pe.Transient = true
	}
	return pe
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	in := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		in.CustomerRef = pi.Customer.ID
	}
	return in
}

var _ Processor = (*StripeProcessor)(nil)
