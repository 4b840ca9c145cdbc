package onboarding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/retry"
	"github.com/propline/onboarding/internal/traces"
)

// BridgeConfig bounds outbound processor calls.
type BridgeConfig struct {
	Currency    string
	CallTimeout time.Duration
	Retry       retry.Policy
}

// DefaultBridgeConfig returns the production defaults.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Currency:    "usd",
		CallTimeout: 10 * time.Second,
		Retry:       retry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// PaymentIntent is what the wizard needs to confirm a payment client-side.
type PaymentIntent struct {
	ProviderRef  string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Bridge opens payment intents for priced tiers and attaches them to
// sessions.
type Bridge struct {
	sessions  *Service
	store     Store
	processor billing.Processor
	cfg       BridgeConfig
	logger    *slog.Logger
}

// NewBridge creates a payment intent bridge.
func NewBridge(sessions *Service, store Store, processor billing.Processor, cfg BridgeConfig, logger *slog.Logger) *Bridge {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = billing.IsTransient
	}
	b := &Bridge{
		sessions:  sessions,
		store:     store,
		processor: processor,
		cfg:       cfg,
		logger:    logging.Component(logger, "payment_bridge"),
	}
	if b.cfg.Retry.OnRetry == nil {
		b.cfg.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			b.logger.Warn("retrying processor call", "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err)
		}
	}
	return b
}

// CreatePaymentIntent returns a payment intent for the session's plan.
// An open intent for the same plan is reused; nothing is persisted unless
// the processor confirmed the intent.
func (b *Bridge) CreatePaymentIntent(ctx context.Context, token string, tier billing.Tier, cycle billing.BillingCycle) (*PaymentIntent, error) {
	ctx, span := traces.StartSpan(ctx, "onboarding.CreatePaymentIntent",
		traces.SessionToken(token), traces.Tier(string(tier)))
	defer span.End()

	pi, result, err := b.createPaymentIntent(ctx, token, tier, cycle)
	if err != nil {
		paymentIntents.WithLabelValues("error").Inc()
		traces.RecordError(span, err)
		return nil, err
	}
	paymentIntents.WithLabelValues(result).Inc()
	span.SetAttributes(traces.IntentRef(pi.ProviderRef), traces.Outcome(result))
	return pi, nil
}

func (b *Bridge) createPaymentIntent(ctx context.Context, token string, tier billing.Tier, cycle billing.BillingCycle) (*PaymentIntent, string, error) {
	sess, err := b.sessions.Get(ctx, token)
	if err != nil {
		return nil, "", err
	}

	if cycle == "" {
		cycle = sess.BillingCycle
		if cycle == "" {
			cycle = billing.CycleMonthly
		}
	}
	amount, err := billing.Price(tier, cycle)
	if err != nil {
		return nil, "", err
	}
	if sess.SelectedTier != "" && sess.SelectedTier != tier {
		return nil, "", fmt.Errorf("%w: selected %s, requested %s", ErrPlanMismatch, sess.SelectedTier, tier)
	}
	if sess.BillingCycle != "" && sess.BillingCycle != cycle {
		return nil, "", fmt.Errorf("%w: selected %s billing, requested %s", ErrPlanMismatch, sess.BillingCycle, cycle)
	}
	if sess.PaymentStatus == PaymentSucceeded {
		return nil, "", ErrPaymentAlreadySucceeded
	}

	result := "created"
	if sess.PaymentIntentRef != "" && sess.PaymentStatus == PaymentPending {
		existing, err := b.getIntent(ctx, sess.PaymentIntentRef)
		if err != nil {
			return nil, "", fmt.Errorf("retrieve payment intent: %w", err)
		}
		switch {
		case existing.Status == billing.IntentSucceeded:
			// Paid, but the webhook has not landed yet.
			if _, err := b.sessions.ApplyPaymentOutcome(ctx, token, existing.ID, PaymentSucceeded); err != nil {
				b.logger.Warn("failed to record succeeded intent", "intent_id", existing.ID, "error", err)
			}
			return nil, "", ErrPaymentAlreadySucceeded
		case existing.Open() && intentMatches(existing, tier, cycle, amount):
			return b.toPaymentIntent(existing), "reused", nil
		case existing.Open():
			b.cancelIntent(ctx, existing.ID)
			result = "replaced"
		default:
			result = "replaced"
		}
	}

	customerRef, err := b.ensureCustomer(ctx, sess)
	if err != nil {
		return nil, "", fmt.Errorf("create customer: %w", err)
	}

	var intent *billing.Intent
	err = b.call(ctx, func(ctx context.Context) error {
		var err error
		intent, err = b.processor.CreateIntent(ctx, billing.IntentRequest{
			Amount:      amount,
			Currency:    b.cfg.Currency,
			CustomerRef: customerRef,
			Description: fmt.Sprintf("%s plan (%s)", billing.Plans[tier].Name, cycle),
			Metadata: map[string]string{
				billing.MetaSessionToken: token,
				billing.MetaTier:         string(tier),
				billing.MetaBillingCycle: string(cycle),
			},
			IdempotencyKey: intentIdempotencyKey(token, tier, cycle, sess.PaymentIntentRef),
		})
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("create payment intent: %w", err)
	}

	ok, err := b.store.AttachPaymentIntent(ctx, token, IntentAttachment{
		ExpectedRef: sess.PaymentIntentRef,
		IntentRef:   intent.ID,
		CustomerRef: customerRef,
		Tier:        tier,
		Cycle:       cycle,
	}, b.sessions.now().UTC())
	if err != nil {
		return nil, "", fmt.Errorf("attach payment intent: %w", err)
	}
	if !ok {
		return b.concurrentWinner(ctx, token, intent)
	}

	b.logger.Info("payment intent attached",
		"token", logging.Token(token), "intent_id", intent.ID, "tier", tier, "cycle", cycle, "amount", amount)
	return b.toPaymentIntent(intent), result, nil
}

// concurrentWinner resolves a lost compare-and-set: another request
// attached an intent first, or the session stopped being mutable.
func (b *Bridge) concurrentWinner(ctx context.Context, token string, ours *billing.Intent) (*PaymentIntent, string, error) {
	sess, err := b.sessions.Get(ctx, token)
	if err != nil {
		if ours.Open() {
			b.cancelIntent(ctx, ours.ID)
		}
		return nil, "", err
	}
	if sess.PaymentStatus == PaymentSucceeded {
		return nil, "", ErrPaymentAlreadySucceeded
	}
	if sess.PaymentIntentRef == "" || sess.PaymentIntentRef == ours.ID {
		return b.toPaymentIntent(ours), "reused", nil
	}

	winner, err := b.getIntent(ctx, sess.PaymentIntentRef)
	if err != nil {
		return nil, "", fmt.Errorf("retrieve payment intent: %w", err)
	}
	b.cancelIntent(ctx, ours.ID)
	return b.toPaymentIntent(winner), "reused", nil
}

// ensureCustomer returns the session's processor customer, creating it on
// first use. The ref is persisted before the intent is created.
func (b *Bridge) ensureCustomer(ctx context.Context, sess *Session) (string, error) {
	if sess.CustomerRef != "" {
		return sess.CustomerRef, nil
	}
	var ref string
	err := b.call(ctx, func(ctx context.Context) error {
		var err error
		ref, err = b.processor.CreateCustomer(ctx, billing.CustomerRequest{
			Name:           sess.OrgName,
			Metadata:       map[string]string{billing.MetaSessionToken: sess.Token},
			IdempotencyKey: "onboarding-customer-" + digest(sess.Token),
		})
		return err
	})
	if err != nil {
		return "", err
	}

	ok, err := b.store.SetCustomerRef(ctx, sess.Token, ref, b.sessions.now().UTC())
	if err != nil {
		return "", fmt.Errorf("record customer: %w", err)
	}
	if ok {
		return ref, nil
	}
	current, err := b.sessions.Get(ctx, sess.Token)
	if err != nil {
		return "", err
	}
	if current.CustomerRef == "" {
		return ref, nil
	}
	return current.CustomerRef, nil
}

func (b *Bridge) getIntent(ctx context.Context, ref string) (*billing.Intent, error) {
	var intent *billing.Intent
	err := b.call(ctx, func(ctx context.Context) error {
		var err error
		intent, err = b.processor.GetIntent(ctx, ref)
		return err
	})
	return intent, err
}

// cancelIntent is best effort: an abandoned intent expires on its own.
func (b *Bridge) cancelIntent(ctx context.Context, ref string) {
	err := b.call(ctx, func(ctx context.Context) error {
		return b.processor.CancelIntent(ctx, ref)
	})
	if err != nil {
		b.logger.Warn("failed to cancel superseded payment intent", "intent_id", ref, "error", err)
	}
}

// call runs fn with a per-attempt timeout, retrying transient failures.
func (b *Bridge) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

func (b *Bridge) toPaymentIntent(in *billing.Intent) *PaymentIntent {
	return &PaymentIntent{
		ProviderRef:  in.ID,
		ClientSecret: in.ClientSecret,
		Amount:       in.Amount,
		Currency:     in.Currency,
	}
}

func intentMatches(in *billing.Intent, tier billing.Tier, cycle billing.BillingCycle, amount int64) bool {
	return in.Metadata[billing.MetaTier] == string(tier) &&
		in.Metadata[billing.MetaBillingCycle] == string(cycle) &&
		in.Amount == amount
}

// intentIdempotencyKey is stable for one session, plan and predecessor, so
// concurrent or retried requests converge on a single intent.
func intentIdempotencyKey(token string, tier billing.Tier, cycle billing.BillingCycle, previousRef string) string {
	return "onboarding-intent-" + digest(token, string(tier), string(cycle), previousRef)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
