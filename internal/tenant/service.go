package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/idgen"
	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/validation"
)

const maxSlugAttempts = 100

// ProvisionRequest describes the organization an onboarding session asks for.
type ProvisionRequest struct {
	OnboardingToken string
	Name            string
	Website         string
	Description     string
	OwnerUserID     string
	Tier            billing.Tier
	BillingCycle    billing.BillingCycle
	CustomerRef     string
}

// ReconcileResult is the outcome of applying one subscription event.
type ReconcileResult string

const (
	ReconcileApplied       ReconcileResult = "applied"
	ReconcileStale         ReconcileResult = "stale"
	ReconcileTenantMissing ReconcileResult = "tenant_missing"
)

// Service provisions tenants and keeps their subscriptions in step with
// the payment processor.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a tenant service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logging.Component(logger, "tenant"),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Provision creates the organization for an onboarding session together
// with its initial subscription. Calling it again for the same session
// returns the tenant created the first time.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (*Tenant, error) {
	if req.OnboardingToken != "" {
		existing, err := s.store.GetByOnboardingToken(ctx, req.OnboardingToken)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrTenantNotFound) {
			return nil, fmt.Errorf("lookup provisioned tenant: %w", err)
		}
	}

	name := validation.SanitizeString(req.Name, 200)
	if name == "" {
		return nil, errors.New("tenant: name is required")
	}

	now := s.now().UTC()
	base := Slugify(name)
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug := base
		if attempt > 0 {
			slug = base + "-" + strconv.Itoa(attempt)
		}

		t := &Tenant{
			ID:               idgen.WithPrefix("org_"),
			Name:             name,
			Slug:             slug,
			Website:          req.Website,
			Description:      req.Description,
			OwnerUserID:      req.OwnerUserID,
			OnboardingToken:  req.OnboardingToken,
			Plan:             req.Tier,
			StripeCustomerID: req.CustomerRef,
			Status:           StatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err := s.store.Provision(ctx, t, initialSubscription(t, req.BillingCycle, now))
		switch {
		case err == nil:
			s.logger.Info("tenant provisioned",
				"tenant_id", t.ID, "slug", t.Slug, "tier", t.Plan)
			return t, nil
		case errors.Is(err, ErrSlugTaken):
			continue
		case errors.Is(err, ErrAlreadyProvisioned):
			// Lost a race with a concurrent completion of the same session.
			return s.store.GetByOnboardingToken(ctx, req.OnboardingToken)
		default:
			return nil, fmt.Errorf("provision tenant: %w", err)
		}
	}
	return nil, fmt.Errorf("provision tenant: no free slug for %q after %d attempts", base, maxSlugAttempts)
}

func initialSubscription(t *Tenant, cycle billing.BillingCycle, now time.Time) *Subscription {
	sub := &Subscription{
		TenantID:            t.ID,
		Tier:                t.Plan,
		Status:              SubscriptionActive,
		ExternalCustomerRef: t.StripeCustomerID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.Plan.Priced() {
		start := now
		end := now.AddDate(0, 1, 0)
		if cycle == billing.CycleYearly {
			end = now.AddDate(1, 0, 0)
		}
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
	}
	return sub
}

// ReconcileSubscription applies a processor subscription event to the
// tenant owning the event's customer.
func (s *Service) ReconcileSubscription(ctx context.Context, ch SubscriptionChange) (ReconcileResult, error) {
	t, err := s.store.GetByCustomerRef(ctx, ch.CustomerRef)
	if errors.Is(err, ErrTenantNotFound) {
		s.logger.Warn("no tenant for subscription customer", "customer", ch.CustomerRef)
		return ReconcileTenantMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup tenant by customer: %w", err)
	}

	ok, err := s.store.ApplySubscriptionChange(ctx, t.ID, ch, s.now().UTC())
	if errors.Is(err, ErrTenantNotFound) {
		return ReconcileTenantMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("apply subscription change: %w", err)
	}
	if !ok {
		s.logger.Info("stale subscription event ignored",
			"tenant_id", t.ID, "event_at", ch.EventAt)
		return ReconcileStale, nil
	}
	s.logger.Info("subscription reconciled",
		"tenant_id", t.ID, "status", ch.Status, "tier", ch.Tier)
	return ReconcileApplied, nil
}

// Get returns a tenant by ID.
func (s *Service) Get(ctx context.Context, id string) (*Tenant, error) {
	return s.store.Get(ctx, id)
}

// Subscription returns the tenant's subscription.
func (s *Service) Subscription(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.store.GetSubscription(ctx, tenantID)
}

// LinkCustomer points a tenant at a processor customer so that later
// subscription events find it.
func (s *Service) LinkCustomer(ctx context.Context, tenantID, customerRef string) (*Tenant, error) {
	if err := s.store.SetCustomerRef(ctx, tenantID, customerRef, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, tenantID)
}
