package onboarding

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by token
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.Token]; exists {
		return errors.New("onboarding: duplicate session token")
	}
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *MemoryStore) GetByToken(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, token string, step int, patch StepPatch, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mutable(token, now)
	if err != nil {
		return nil, err
	}
	if s.PaymentStatus == PaymentSucceeded && patch.LeavesPaidPlan(s) {
		return nil, ErrConditionFailed
	}
	if patch.OrgName != nil {
		s.OrgName = *patch.OrgName
	}
	if patch.OrgWebsite != nil {
		s.OrgWebsite = *patch.OrgWebsite
	}
	if patch.OrgDescription != nil {
		s.OrgDescription = *patch.OrgDescription
	}
	if patch.SelectedTier != nil {
		s.SelectedTier = *patch.SelectedTier
	}
	if patch.BillingCycle != nil {
		s.BillingCycle = *patch.BillingCycle
	}
	if step > s.CurrentStep {
		s.CurrentStep = step
	}
	s.UpdatedAt = now
	return copySession(s), nil
}

func (m *MemoryStore) SetCustomerRef(_ context.Context, token, customerRef string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mutable(token, now)
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	if s.CustomerRef != "" {
		return false, nil
	}
	s.CustomerRef = customerRef
	s.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) AttachPaymentIntent(_ context.Context, token string, att IntentAttachment, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mutable(token, now)
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	if s.PaymentIntentRef != att.ExpectedRef || s.PaymentStatus == PaymentSucceeded {
		return false, nil
	}
	s.PaymentIntentRef = att.IntentRef
	s.PaymentStatus = PaymentPending
	s.PaymentTier = att.Tier
	s.PaymentCycle = att.Cycle
	if s.CustomerRef == "" {
		s.CustomerRef = att.CustomerRef
	}
	s.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) SetPaymentStatus(_ context.Context, token, intentRef string, status PaymentStatus, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mutable(token, now)
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	if s.PaymentStatus.Terminal() {
		return false, nil
	}
	if s.PaymentIntentRef != "" && s.PaymentIntentRef != intentRef {
		return false, nil
	}
	if status == PaymentSucceeded && s.PaymentTier == "" {
		s.PaymentTier = s.SelectedTier
		s.PaymentCycle = s.BillingCycle
	}
	s.PaymentIntentRef = intentRef
	s.PaymentStatus = status
	s.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, token, organizationID string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mutable(token, now)
	if err != nil {
		return nil, err
	}
	completedAt := now
	s.IsCompleted = true
	s.CompletedAt = &completedAt
	s.OrganizationID = organizationID
	s.CurrentStep = TotalSteps
	s.UpdatedAt = now
	return copySession(s), nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for token, s := range m.sessions {
		if !s.IsCompleted && !now.Before(s.ExpiresAt) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

// mutable returns the live record for token. Caller must hold m.mu.
func (m *MemoryStore) mutable(token string, now time.Time) (*Session, error) {
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.Mutable(now) {
		return nil, ErrConditionFailed
	}
	return s, nil
}

func copySession(s *Session) *Session {
	cp := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
