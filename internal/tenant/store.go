package tenant

import (
	"context"
	"time"
)

// Store persists tenants and their subscriptions.
type Store interface {
	// Provision inserts a tenant and its initial subscription atomically.
	// It returns ErrSlugTaken or ErrAlreadyProvisioned on conflicts.
	Provision(ctx context.Context, t *Tenant, sub *Subscription) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByOnboardingToken(ctx context.Context, token string) (*Tenant, error)
	GetByCustomerRef(ctx context.Context, customerRef string) (*Tenant, error)
	SetCustomerRef(ctx context.Context, tenantID, customerRef string, now time.Time) error

	GetSubscription(ctx context.Context, tenantID string) (*Subscription, error)
	// ApplySubscriptionChange upserts the tenant's subscription unless a
	// newer event has already been applied. It reports whether it wrote.
	ApplySubscriptionChange(ctx context.Context, tenantID string, change SubscriptionChange, now time.Time) (bool, error)
}
