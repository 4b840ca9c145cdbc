package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/idgen"
	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/traces"
)

// Organization is the tenant created when a session completes.
type Organization struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Slug string       `json:"slug"`
	Tier billing.Tier `json:"tier"`
}

// ProvisionRequest carries the session answers needed to create a tenant.
type ProvisionRequest struct {
	SessionToken string
	Name         string
	Website      string
	Description  string
	OwnerUserID  string
	Tier         billing.Tier
	BillingCycle billing.BillingCycle
	CustomerRef  string
}

// Provisioner creates the organization for a completed session. It must be
// idempotent by SessionToken: a retried completion gets the tenant created
// by the first attempt.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (*Organization, error)
}

// Completion is the result of completing a session.
type Completion struct {
	Session      *Session      `json:"session"`
	Organization *Organization `json:"organization"`
}

// PaymentUpdate reports what a payment outcome event did to a session.
type PaymentUpdate string

const (
	PaymentApplied        PaymentUpdate = "applied"
	PaymentNoop           PaymentUpdate = "noop"
	PaymentSessionMissing PaymentUpdate = "session_missing"
)

// Service implements the session lifecycle.
type Service struct {
	store       Store
	provisioner Provisioner
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new onboarding service.
func NewService(store Store, provisioner Provisioner, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		provisioner: provisioner,
		logger:      logging.Component(logger, "onboarding"),
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create starts a new session. userID is empty for anonymous visitors.
func (s *Service) Create(ctx context.Context, userID string) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:          uuid.NewString(),
		Token:       idgen.Token(),
		CurrentStep: StepOrganization,
		TotalSteps:  TotalSteps,
		UserID:      userID,
		ExpiresAt:   now.Add(SessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sessionsCreated.Inc()
	logging.L(ctx).Info("onboarding session created",
		"token", logging.Token(sess.Token), "user_id", userID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Get returns the session for token if it is still mutable.
func (s *Service) Get(ctx context.Context, token string) (*Session, error) {
	sess, outcome, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomeValid {
		sessionRejections.WithLabelValues(outcome.String()).Inc()
		return nil, outcome.Err()
	}
	return sess, nil
}

// UpdateStep merges one step's data into the session.
func (s *Service) UpdateStep(ctx context.Context, token string, step int, data json.RawMessage) (*Session, error) {
	label := strconv.Itoa(step)
	if step < StepOrganization || step > StepPayment {
		stepUpdates.WithLabelValues("invalid", "rejected").Inc()
		return nil, fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	current, err := s.Get(ctx, token)
	if err != nil {
		stepUpdates.WithLabelValues(label, "rejected").Inc()
		return nil, err
	}

	patch, err := DecodeStep(step, data)
	if err != nil {
		stepUpdates.WithLabelValues(label, "rejected").Inc()
		return nil, err
	}
	if current.PaymentStatus == PaymentSucceeded && patch.LeavesPaidPlan(current) {
		stepUpdates.WithLabelValues(label, "rejected").Inc()
		return nil, ErrPlanLocked
	}

	sess, err := s.store.UpdateStep(ctx, token, step, patch, s.now().UTC())
	if err != nil {
		stepUpdates.WithLabelValues(label, "rejected").Inc()
		err = s.explain(ctx, token, err)
		if errors.Is(err, ErrConditionFailed) && patch.SetsPlan() {
			// Live session, so the store refused the plan lock.
			err = ErrPlanLocked
		}
		return nil, err
	}

	stepUpdates.WithLabelValues(label, "ok").Inc()
	logging.L(ctx).Debug("onboarding step saved",
		"token", logging.Token(token), "step", step, "current_step", sess.CurrentStep)
	return sess, nil
}

// Complete provisions the organization and closes the session. It is the
// only path that sets isCompleted.
func (s *Service) Complete(ctx context.Context, token string) (*Completion, error) {
	ctx, span := traces.StartSpan(ctx, "onboarding.Complete", traces.SessionToken(token))
	defer span.End()

	sess, err := s.Get(ctx, token)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	if err := readyToComplete(sess); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Tier(string(sess.SelectedTier)))

	org, err := s.provisioner.Provision(ctx, ProvisionRequest{
		SessionToken: sess.Token,
		Name:         sess.OrgName,
		Website:      sess.OrgWebsite,
		Description:  sess.OrgDescription,
		OwnerUserID:  sess.UserID,
		Tier:         sess.SelectedTier,
		BillingCycle: sess.BillingCycle,
		CustomerRef:  sess.CustomerRef,
	})
	if err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("provision organization: %w", err)
	}

	done, err := s.store.MarkCompleted(ctx, token, org.ID, s.now().UTC())
	if err != nil {
		// The tenant exists; a retry finds it through the session token.
		err = s.explain(ctx, token, err)
		traces.RecordError(span, err)
		s.logger.Warn("organization provisioned but session not completed",
			"token", logging.Token(token), "organization_id", org.ID, "error", err)
		return nil, err
	}

	sessionsCompleted.WithLabelValues(string(done.SelectedTier)).Inc()
	logging.L(ctx).Info("onboarding completed",
		"token", logging.Token(token), "organization_id", org.ID, "tier", done.SelectedTier)
	return &Completion{Session: done, Organization: org}, nil
}

func readyToComplete(sess *Session) error {
	if sess.OrgName == "" {
		return ErrOrgNameRequired
	}
	if sess.SelectedTier == "" {
		return ErrTierRequired
	}
	if !sess.SelectedTier.Priced() {
		return nil
	}
	if sess.PaymentStatus != PaymentSucceeded {
		return ErrPaymentRequired
	}
	if !sess.PlanPaid() {
		return fmt.Errorf("%w: paid %s (%s), selected %s (%s)", ErrPlanMismatch,
			sess.PaymentTier, cycleOrMonthly(sess.PaymentCycle), sess.SelectedTier, cycleOrMonthly(sess.BillingCycle))
	}
	return nil
}

// ApplyPaymentOutcome records a terminal payment status reported by the
// processor. Repeated or stale events leave the session unchanged.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, token, intentRef string, status PaymentStatus) (PaymentUpdate, error) {
	if !status.Terminal() {
		return "", fmt.Errorf("apply payment outcome: status %q is not terminal", status)
	}

	sess, outcome, err := s.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	result, err := s.applyPayment(ctx, sess, outcome, intentRef, status)
	if err != nil {
		return "", err
	}
	paymentOutcomes.WithLabelValues(string(status), string(result)).Inc()
	return result, nil
}

func (s *Service) applyPayment(ctx context.Context, sess *Session, outcome Outcome, intentRef string, status PaymentStatus) (PaymentUpdate, error) {
	switch outcome {
	case OutcomeNotFound, OutcomeExpired:
		return PaymentSessionMissing, nil
	case OutcomeCompleted:
		return PaymentNoop, nil
	}

	ok, err := s.store.SetPaymentStatus(ctx, sess.Token, intentRef, status, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("set payment status: %w", err)
	}
	if !ok {
		return PaymentNoop, nil
	}
	logging.L(ctx).Info("payment status recorded",
		"token", logging.Token(sess.Token), "intent_id", intentRef, "status", status)
	return PaymentApplied, nil
}

// CleanupExpired deletes expired sessions that were never completed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	sessionsReaped.Add(float64(n))
	return n, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*Session, Outcome, error) {
	if token == "" {
		return nil, OutcomeNotFound, nil
	}
	sess, err := s.store.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, OutcomeNotFound, nil
	}
	if err != nil {
		return nil, OutcomeNotFound, fmt.Errorf("get session: %w", err)
	}
	return sess, Evaluate(sess, s.now()), nil
}

// explain turns a failed conditional write into the session-state error a
// caller should see.
func (s *Service) explain(ctx context.Context, token string, err error) error {
	if !errors.Is(err, ErrConditionFailed) && !errors.Is(err, ErrNotFound) {
		return err
	}
	_, outcome, lerr := s.lookup(ctx, token)
	if lerr != nil {
		return lerr
	}
	if outcome == OutcomeValid {
		return err
	}
	return outcome.Err()
}
