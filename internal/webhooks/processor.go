package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/onboarding"
	"github.com/propline/onboarding/internal/tenant"
	"github.com/propline/onboarding/internal/traces"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.opentelemetry.io/otel/trace"
)

// SessionReconciler records payment outcomes on onboarding sessions.
type SessionReconciler interface {
	ApplyPaymentOutcome(ctx context.Context, token, intentRef string, status onboarding.PaymentStatus) (onboarding.PaymentUpdate, error)
}

// SubscriptionReconciler records subscription state on tenants.
type SubscriptionReconciler interface {
	ReconcileSubscription(ctx context.Context, change tenant.SubscriptionChange) (tenant.ReconcileResult, error)
}

// Processor verifies, parses and applies processor events.
type Processor struct {
	secret        string
	sessions      SessionReconciler
	subscriptions SubscriptionReconciler
	ledger        Ledger
	logger        *slog.Logger
	now           func() time.Time
}

// NewProcessor creates an event processor. secret is the endpoint's
// signing secret. A nil ledger disables duplicate short-circuiting.
func NewProcessor(secret string, sessions SessionReconciler, subscriptions SubscriptionReconciler, ledger Ledger, logger *slog.Logger) *Processor {
	return &Processor{
		secret:        secret,
		sessions:      sessions,
		subscriptions: subscriptions,
		ledger:        ledger,
		logger:        logging.Component(logger, "webhooks"),
		now:           time.Now,
	}
}

// Handle processes one delivery. It returns ErrInvalidSignature or
// ErrMalformedPayload for deliveries that must be rejected, and any other
// error when the event could not be applied and should be redelivered.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "webhooks.Handle")
	defer span.End()

	if err := webhook.ValidatePayload(payload, signature, p.secret); err != nil {
		signatureFailures.Inc()
		p.logger.Warn("webhook signature verification failed",
			"error", err, "request_id", logging.RequestID(ctx))
		traces.RecordError(span, ErrInvalidSignature)
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	evt, err := Parse(payload)
	if err != nil {
		eventsTotal.WithLabelValues("unknown", "malformed").Inc()
		p.logger.Warn("malformed webhook payload", "error", err)
		traces.RecordError(span, err)
		return Result{}, err
	}
	env := evt.envelope()
	span.SetAttributes(traces.EventID(env.ID), traces.EventType(env.Type))
	logger := p.logger.With("event_id", env.ID, "event_type", env.Type)

	res := Result{EventID: env.ID, Type: env.Type}
	if p.seen(ctx, logger, env.ID) {
		res.Outcome = OutcomeDuplicate
		p.finish(span, res, start)
		logger.Info("duplicate webhook event skipped")
		return res, nil
	}

	outcome, err := p.dispatch(ctx, logger, evt)
	if err != nil {
		eventsTotal.WithLabelValues(typeLabel(env.Type), "error").Inc()
		traces.RecordError(span, err)
		logger.Error("webhook event processing failed", "error", err)
		return Result{}, err
	}
	res.Outcome = outcome

	p.record(ctx, logger, Record{EventID: env.ID, Type: env.Type, Outcome: outcome, ProcessedAt: p.now().UTC()})
	p.finish(span, res, start)
	logger.Info("webhook event processed", "outcome", outcome)
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, logger *slog.Logger, evt Event) (Outcome, error) {
	switch e := evt.(type) {
	case PaymentOutcomeEvent:
		return p.applyPayment(ctx, logger, e)
	case SubscriptionEvent:
		return p.applySubscription(ctx, e)
	case UnhandledEvent:
		return OutcomeUnhandled, nil
	default:
		return "", fmt.Errorf("webhooks: unexpected event %T", evt)
	}
}

func (p *Processor) applyPayment(ctx context.Context, logger *slog.Logger, e PaymentOutcomeEvent) (Outcome, error) {
	if e.SessionToken == "" {
		logger.Info("payment intent not linked to onboarding", "intent", e.IntentRef)
		return OutcomeIgnored, nil
	}
	update, err := p.sessions.ApplyPaymentOutcome(ctx, e.SessionToken, e.IntentRef, e.Status)
	if err != nil {
		return "", fmt.Errorf("apply payment outcome: %w", err)
	}
	switch update {
	case onboarding.PaymentApplied:
		return OutcomeApplied, nil
	case onboarding.PaymentSessionMissing:
		logger.Warn("payment outcome for unknown or expired session",
			"token", logging.Token(e.SessionToken), "intent", e.IntentRef)
		return OutcomeSessionMissing, nil
	default:
		return OutcomeNoop, nil
	}
}

func (p *Processor) applySubscription(ctx context.Context, e SubscriptionEvent) (Outcome, error) {
	result, err := p.subscriptions.ReconcileSubscription(ctx, e.Change)
	if err != nil {
		return "", fmt.Errorf("reconcile subscription: %w", err)
	}
	switch result {
	case tenant.ReconcileApplied:
		return OutcomeApplied, nil
	case tenant.ReconcileStale:
		return OutcomeStale, nil
	default:
		return OutcomeTenantMissing, nil
	}
}

// seen consults the ledger. Ledger failures are logged and treated as
// unseen: the conditional writes downstream keep reprocessing safe.
func (p *Processor) seen(ctx context.Context, logger *slog.Logger, eventID string) bool {
	if p.ledger == nil {
		return false
	}
	ok, err := p.ledger.Seen(ctx, eventID)
	if err != nil {
		ledgerErrors.WithLabelValues("seen").Inc()
		logger.Warn("webhook ledger lookup failed", "error", err)
		return false
	}
	return ok
}

func (p *Processor) record(ctx context.Context, logger *slog.Logger, rec Record) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Record(ctx, rec); err != nil {
		ledgerErrors.WithLabelValues("record").Inc()
		logger.Warn("webhook ledger write failed", "error", err)
	}
}

func (p *Processor) finish(span trace.Span, res Result, start time.Time) {
	span.SetAttributes(traces.Outcome(string(res.Outcome)))
	eventsTotal.WithLabelValues(typeLabel(res.Type), string(res.Outcome)).Inc()
	processingDuration.Observe(time.Since(start).Seconds())
}

// typeLabel bounds metric cardinality to the reconciled event types.
func typeLabel(t string) string {
	switch t {
	case TypePaymentSucceeded, TypePaymentFailed,
		TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		return t
	default:
		return "other"
	}
}
