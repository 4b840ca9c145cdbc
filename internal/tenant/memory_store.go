package tenant

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory tenant store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	tenants       map[string]*Tenant       // by ID
	slugs         map[string]string        // slug → ID
	tokens        map[string]string        // onboarding token → ID
	customers     map[string]string        // stripe customer → ID
	subscriptions map[string]*Subscription // by tenant ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       make(map[string]*Tenant),
		slugs:         make(map[string]string),
		tokens:        make(map[string]string),
		customers:     make(map[string]string),
		subscriptions: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Provision(_ context.Context, t *Tenant, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.OnboardingToken != "" {
		if _, exists := m.tokens[t.OnboardingToken]; exists {
			return ErrAlreadyProvisioned
		}
	}
	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}
	if t.StripeCustomerID != "" {
		if _, exists := m.customers[t.StripeCustomerID]; exists {
			return ErrCustomerRefTaken
		}
	}

	cp := *t
	m.tenants[t.ID] = &cp
	m.slugs[t.Slug] = t.ID
	if t.OnboardingToken != "" {
		m.tokens[t.OnboardingToken] = t.ID
	}
	if t.StripeCustomerID != "" {
		m.customers[t.StripeCustomerID] = t.ID
	}
	if sub != nil {
		sc := *sub
		m.subscriptions[t.ID] = &sc
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyTenant(id)
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyTenant(m.slugs[slug])
}

func (m *MemoryStore) GetByOnboardingToken(_ context.Context, token string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyTenant(m.tokens[token])
}

func (m *MemoryStore) GetByCustomerRef(_ context.Context, customerRef string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyTenant(m.customers[customerRef])
}

func (m *MemoryStore) SetCustomerRef(_ context.Context, tenantID, customerRef string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return ErrTenantNotFound
	}
	if owner, exists := m.customers[customerRef]; exists && owner != tenantID {
		return ErrCustomerRefTaken
	}
	if t.StripeCustomerID != "" {
		delete(m.customers, t.StripeCustomerID)
	}
	t.StripeCustomerID = customerRef
	t.UpdatedAt = now
	m.customers[customerRef] = tenantID
	if sub, ok := m.subscriptions[tenantID]; ok {
		sub.ExternalCustomerRef = customerRef
		sub.UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[tenantID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) ApplySubscriptionChange(_ context.Context, tenantID string, ch SubscriptionChange, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[tenantID]; !ok {
		return false, ErrTenantNotFound
	}

	eventAt := ch.EventAt
	sub, ok := m.subscriptions[tenantID]
	if !ok {
		tier := ch.Tier
		if tier == "" {
			tier = DefaultSubscriptionTier
		}
		sub = &Subscription{TenantID: tenantID, Tier: tier, CreatedAt: now}
		m.subscriptions[tenantID] = sub
	} else if !applies(sub, ch) {
		return false, nil
	} else if ch.Tier != "" {
		sub.Tier = ch.Tier
	}

	sub.Status = ch.Status
	sub.CurrentPeriodStart = ch.CurrentPeriodStart
	sub.CurrentPeriodEnd = ch.CurrentPeriodEnd
	sub.ExternalCustomerRef = ch.CustomerRef
	if ch.SubscriptionRef != "" {
		sub.ExternalSubscriptionRef = ch.SubscriptionRef
	}
	sub.CancelAtPeriodEnd = ch.CancelAtPeriodEnd
	sub.LastEventAt = &eventAt
	sub.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) copyTenant(id string) (*Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
