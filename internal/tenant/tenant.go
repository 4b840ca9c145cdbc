// Package tenant owns organizations created by onboarding and their
// subscription state as reported by the payment processor.
package tenant

import (
	"errors"
	"strings"
	"time"

	"github.com/propline/onboarding/internal/billing"
)

// Errors
var (
	ErrTenantNotFound       = errors.New("tenant: not found")
	ErrSlugTaken            = errors.New("tenant: slug already taken")
	ErrAlreadyProvisioned   = errors.New("tenant: onboarding session already provisioned")
	ErrCustomerRefTaken     = errors.New("tenant: customer reference belongs to another tenant")
	ErrSubscriptionNotFound = errors.New("tenant: subscription not found")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Tenant represents an organisation using the platform.
type Tenant struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Slug             string       `json:"slug"`
	Website          string       `json:"website,omitempty"`
	Description      string       `json:"description,omitempty"`
	OwnerUserID      string       `json:"ownerUserId,omitempty"`
	OnboardingToken  string       `json:"-"`
	Plan             billing.Tier `json:"plan"`
	StripeCustomerID string       `json:"stripeCustomerId,omitempty"`
	Status           Status       `json:"status"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// SubscriptionStatus is the tenant-side view of a processor subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionInactive  SubscriptionStatus = "INACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription is keyed 1:1 by tenant.
type Subscription struct {
	TenantID                string             `json:"tenantId"`
	Tier                    billing.Tier       `json:"tier"`
	Status                  SubscriptionStatus `json:"status"`
	CurrentPeriodStart      *time.Time         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd        *time.Time         `json:"currentPeriodEnd,omitempty"`
	ExternalCustomerRef     string             `json:"externalCustomerRef,omitempty"`
	ExternalSubscriptionRef string             `json:"externalSubscriptionRef,omitempty"`
	CancelAtPeriodEnd       bool               `json:"cancelAtPeriodEnd"`
	LastEventAt             *time.Time         `json:"lastEventAt,omitempty"`
	CreatedAt               time.Time          `json:"createdAt"`
	UpdatedAt               time.Time          `json:"updatedAt"`
}

// SubscriptionChange is one processor-reported subscription state.
// An empty Tier keeps the stored tier (DefaultSubscriptionTier on insert).
type SubscriptionChange struct {
	CustomerRef        string
	SubscriptionRef    string
	Tier               billing.Tier
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	EventAt            time.Time
}

// DefaultSubscriptionTier is used when a subscription event for a tenant
// without a subscription row carries no tier.
const DefaultSubscriptionTier = billing.TierStarter

// applies reports whether ch may overwrite sub. Changes apply in event
// order, ties included. CANCELLED is final for its subscription: only a
// change naming a different subscription ref may replace it.
func applies(sub *Subscription, ch SubscriptionChange) bool {
	if sub.Status == SubscriptionCancelled &&
		(ch.SubscriptionRef == "" || ch.SubscriptionRef == sub.ExternalSubscriptionRef) {
		return false
	}
	return sub.LastEventAt == nil || !ch.EventAt.Before(*sub.LastEventAt)
}

const maxSlugLen = 60

// Slugify derives a URL slug from an organization name:
// "Acme Realty, LLC" becomes "acme-realty-llc".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "org"
	}
	return slug
}
