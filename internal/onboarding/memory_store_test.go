package onboarding

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, store Store, token string, now time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &Session{
		ID:          "id-" + token,
		Token:       token,
		CurrentStep: 1,
		TotalSteps:  TotalSteps,
		ExpiresAt:   now.Add(SessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	seedSession(t, store, "tok", now)

	s, err := store.GetByToken(context.Background(), "tok")
	require.NoError(t, err)
	s.OrgName = "mutated"

	again, _ := store.GetByToken(context.Background(), "tok")
	assert.Empty(t, again.OrgName)
}

func TestMemoryStore_DuplicateToken(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	seedSession(t, store, "tok", now)
	err := store.Create(context.Background(), &Session{Token: "tok", ExpiresAt: now.Add(time.Hour)})
	assert.Error(t, err)
}

func TestMemoryStore_ConditionalWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, store, "tok", now)

	name := "Acme"
	_, err := store.UpdateStep(ctx, "missing", 1, StepPatch{OrgName: &name}, now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.UpdateStep(ctx, "tok", 1, StepPatch{OrgName: &name}, now.Add(SessionTTL))
	assert.ErrorIs(t, err, ErrConditionFailed)

	_, err = store.MarkCompleted(ctx, "tok", "org_1", now)
	require.NoError(t, err)

	_, err = store.UpdateStep(ctx, "tok", 1, StepPatch{OrgName: &name}, now)
	assert.ErrorIs(t, err, ErrConditionFailed)

	ok, err := store.SetPaymentStatus(ctx, "tok", "pi_1", PaymentSucceeded, now)
	require.NoError(t, err)
	assert.False(t, ok, "completed sessions take no payment updates")

	_, err = store.MarkCompleted(ctx, "tok", "org_2", now)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestMemoryStore_AttachPaymentIntentCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, store, "tok", now)

	ok, err := store.AttachPaymentIntent(ctx, "tok", IntentAttachment{IntentRef: "pi_1", CustomerRef: "cus_1"}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AttachPaymentIntent(ctx, "tok", IntentAttachment{ExpectedRef: "", IntentRef: "pi_2"}, now)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected ref must lose")

	ok, err = store.AttachPaymentIntent(ctx, "tok", IntentAttachment{ExpectedRef: "pi_1", IntentRef: "pi_2", CustomerRef: "cus_other"}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	s, _ := store.GetByToken(ctx, "tok")
	assert.Equal(t, "pi_2", s.PaymentIntentRef)
	assert.Equal(t, "cus_1", s.CustomerRef, "customer ref is write-once")

	_, _ = store.SetPaymentStatus(ctx, "tok", "pi_2", PaymentSucceeded, now)
	ok, err = store.AttachPaymentIntent(ctx, "tok", IntentAttachment{ExpectedRef: "pi_2", IntentRef: "pi_3"}, now)
	require.NoError(t, err)
	assert.False(t, ok, "paid sessions keep their intent")
}

func TestMemoryStore_SetCustomerRefWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, store, "tok", now)

	ok, err := store.SetCustomerRef(ctx, "tok", "cus_1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.SetCustomerRef(ctx, "tok", "cus_2", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.SetCustomerRef(ctx, "tok", "cus_3", now.Add(SessionTTL))
	require.NoError(t, err)
	assert.False(t, ok, "expired sessions are not written")

	s, _ := store.GetByToken(ctx, "tok")
	assert.Equal(t, "cus_1", s.CustomerRef)
}

func TestMemoryStore_PaidPlanIsLocked(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, store, "tok", now)
	starter, elite, yearly := billing.TierStarter, billing.TierElite, billing.CycleYearly

	_, err := store.UpdateStep(ctx, "tok", 2, StepPatch{SelectedTier: &starter}, now)
	require.NoError(t, err)
	ok, err := store.AttachPaymentIntent(ctx, "tok", IntentAttachment{
		IntentRef: "pi_1", Tier: billing.TierStarter, Cycle: billing.CycleMonthly,
	}, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Still pending: the plan may change.
	_, err = store.UpdateStep(ctx, "tok", 2, StepPatch{SelectedTier: &elite}, now)
	require.NoError(t, err)

	ok, err = store.SetPaymentStatus(ctx, "tok", "pi_1", PaymentSucceeded, now)
	require.NoError(t, err)
	require.True(t, ok)
	s, _ := store.GetByToken(ctx, "tok")
	assert.Equal(t, billing.TierStarter, s.PaymentTier, "attached plan wins over the selection")

	_, err = store.UpdateStep(ctx, "tok", 2, StepPatch{BillingCycle: &yearly}, now)
	assert.ErrorIs(t, err, ErrConditionFailed)
	_, err = store.UpdateStep(ctx, "tok", 2, StepPatch{SelectedTier: &starter}, now)
	require.NoError(t, err)
	name := "Acme"
	_, err = store.UpdateStep(ctx, "tok", 1, StepPatch{OrgName: &name}, now)
	require.NoError(t, err)
}

func TestMemoryStore_ConcurrentPaymentStatusAppliesOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, store, "tok", now)
	_, _ = store.AttachPaymentIntent(ctx, "tok", IntentAttachment{IntentRef: "pi_1"}, now)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := PaymentSucceeded
			if i%2 == 1 {
				status = PaymentFailed
			}
			ok, err := store.SetPaymentStatus(ctx, "tok", "pi_1", status, now)
			if assert.NoError(t, err) && ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	s, _ := store.GetByToken(ctx, "tok")
	assert.True(t, s.PaymentStatus.Terminal())
}

func TestMemoryStore_ConcurrentStepUpdatesKeepHighestStep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, store, "tok", now)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			_, err := store.UpdateStep(ctx, "tok", step, StepPatch{}, now)
			assert.NoError(t, err)
		}(i%3 + 1)
	}
	wg.Wait()

	s, _ := store.GetByToken(ctx, "tok")
	assert.Equal(t, 3, s.CurrentStep)
}
