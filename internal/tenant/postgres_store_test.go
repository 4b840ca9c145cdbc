//go:build integration

package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_ProvisionAndLookup(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	svc := NewService(store, testLogger)

	first, err := svc.Provision(ctx, ProvisionRequest{
		OnboardingToken: "tok_1", Name: "Acme Realty", Tier: billing.TierStarter, CustomerRef: "cus_1",
	})
	require.NoError(t, err)
	second, err := svc.Provision(ctx, ProvisionRequest{OnboardingToken: "tok_2", Name: "Acme Realty", Tier: billing.TierFree})
	require.NoError(t, err)
	assert.Equal(t, "acme-realty", first.Slug)
	assert.Equal(t, "acme-realty-1", second.Slug)

	again, err := svc.Provision(ctx, ProvisionRequest{OnboardingToken: "tok_1", Name: "Acme Realty", Tier: billing.TierStarter})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	got, err := store.GetByCustomerRef(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "tok_1", got.OnboardingToken)

	sub, err := store.GetSubscription(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, sub.Status)
	assert.Equal(t, "cus_1", sub.ExternalCustomerRef)
	assert.NotNil(t, sub.CurrentPeriodEnd)

	assert.ErrorIs(t, store.SetCustomerRef(ctx, second.ID, "cus_1", time.Now()), ErrCustomerRefTaken)
	require.NoError(t, store.SetCustomerRef(ctx, second.ID, "cus_2", time.Now()))
	sub, err = store.GetSubscription(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_2", sub.ExternalCustomerRef)
}

func TestPostgresStore_ApplySubscriptionChangeOrdering(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC()
	require.NoError(t, store.Provision(ctx, testTenant("t_1", "acme"), nil))

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := store.ApplySubscriptionChange(ctx, "t_1", SubscriptionChange{
		CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: SubscriptionActive, EventAt: t0,
	}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	sub, err := store.GetSubscription(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, DefaultSubscriptionTier, sub.Tier)

	ok, err = store.ApplySubscriptionChange(ctx, "t_1", SubscriptionChange{
		CustomerRef: "cus_1", Tier: billing.TierElite, Status: SubscriptionInactive, EventAt: t0.Add(-time.Second),
	}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ApplySubscriptionChange(ctx, "t_1", SubscriptionChange{
		CustomerRef: "cus_1", Status: SubscriptionCancelled, CancelAtPeriodEnd: true, EventAt: t0.Add(time.Second),
	}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	sub, err = store.GetSubscription(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionCancelled, sub.Status)
	assert.Equal(t, DefaultSubscriptionTier, sub.Tier)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionRef)
	assert.True(t, sub.CancelAtPeriodEnd)

	_, err = store.ApplySubscriptionChange(ctx, "missing", SubscriptionChange{Status: SubscriptionActive, EventAt: t0}, now)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestPostgresStore_CancelledSubscriptionIsFinal(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC()
	require.NoError(t, store.Provision(ctx, testTenant("t_1", "acme"), nil))

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := store.ApplySubscriptionChange(ctx, "t_1", SubscriptionChange{
		CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: SubscriptionCancelled, CancelAtPeriodEnd: true, EventAt: t0,
	}, now)
	require.NoError(t, err)
	require.True(t, ok)

	for _, ch := range []SubscriptionChange{
		{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: SubscriptionActive, EventAt: t0},
		{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: SubscriptionActive, EventAt: t0.Add(time.Hour)},
		{CustomerRef: "cus_1", Status: SubscriptionInactive, EventAt: t0},
	} {
		ok, err := store.ApplySubscriptionChange(ctx, "t_1", ch, now)
		require.NoError(t, err)
		assert.False(t, ok, "%s at %s", ch.SubscriptionRef, ch.EventAt)
	}
	sub, err := store.GetSubscription(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionCancelled, sub.Status)

	ok, err = store.ApplySubscriptionChange(ctx, "t_1", SubscriptionChange{
		CustomerRef: "cus_1", SubscriptionRef: "sub_2", Status: SubscriptionActive, EventAt: t0,
	}, now)
	require.NoError(t, err)
	assert.True(t, ok)
	sub, err = store.GetSubscription(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, sub.Status)
	assert.Equal(t, "sub_2", sub.ExternalSubscriptionRef)
}
