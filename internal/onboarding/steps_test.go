package onboarding

import (
	"encoding/json"
	"testing"

	"github.com/propline/onboarding/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStep_Organization(t *testing.T) {
	p, err := DecodeStep(StepOrganization, json.RawMessage(`{"orgName":"  Acme Realty  ","orgWebsite":" https://acme.example "}`))
	require.NoError(t, err)
	require.NotNil(t, p.OrgName)
	assert.Equal(t, "Acme Realty", *p.OrgName)
	assert.Equal(t, "https://acme.example", *p.OrgWebsite)
	assert.Nil(t, p.OrgDescription)
	assert.Nil(t, p.SelectedTier)
}

func TestDecodeStep_PlanNormalises(t *testing.T) {
	p, err := DecodeStep(StepPlan, json.RawMessage(`{"selectedTier":"elite","billingCycle":"yearly"}`))
	require.NoError(t, err)
	assert.Equal(t, billing.TierElite, *p.SelectedTier)
	assert.Equal(t, billing.CycleYearly, *p.BillingCycle)
}

func TestDecodeStep_EmptyBodies(t *testing.T) {
	for _, body := range []string{"", "null", "{}", "  "} {
		p, err := DecodeStep(StepPayment, json.RawMessage(body))
		require.NoError(t, err, "body %q", body)
		assert.Equal(t, StepPatch{}, p)
	}
}

func TestDecodeStep_Rejects(t *testing.T) {
	tests := []struct {
		name string
		step int
		body string
	}{
		{"step 2 field on step 1", StepOrganization, `{"billingCycle":"MONTHLY"}`},
		{"step 1 field on step 2", StepPlan, `{"orgName":"Acme"}`},
		{"payment fields", StepPayment, `{"paymentIntentId":"pi_1"}`},
		{"trailing data", StepOrganization, `{"orgName":"Acme"} {"orgName":"Evil"}`},
		{"malformed", StepPlan, `{"selectedTier":`},
		{"null-byte name", StepOrganization, `{"orgName":"\u0000"}`},
		{"null bytes around spaces", StepOrganization, `{"orgName":" \u0000 \u0000 "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStep(tt.step, json.RawMessage(tt.body))
			assert.ErrorIs(t, err, ErrInvalidStepData)
		})
	}

	_, err := DecodeStep(StepReview, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestDecodeStep_SanitizesBeforeValidating(t *testing.T) {
	p, err := DecodeStep(StepOrganization, json.RawMessage(`{"orgName":"\u0000 Acme\u0000 ","orgDescription":" \u0000Brokers "}`))
	require.NoError(t, err)
	assert.Equal(t, "Acme", *p.OrgName)
	assert.Equal(t, "Brokers", *p.OrgDescription)
}

func TestStepPatch_LeavesPaidPlan(t *testing.T) {
	starter, elite := billing.TierStarter, billing.TierElite
	monthly, yearly := billing.CycleMonthly, billing.CycleYearly
	// Paid STARTER with no cycle chosen, then switched to ELITE while pending.
	sess := &Session{SelectedTier: billing.TierElite, PaymentTier: billing.TierStarter}

	assert.False(t, StepPatch{}.SetsPlan())
	assert.False(t, StepPatch{}.LeavesPaidPlan(sess), "no plan fields")
	assert.False(t, StepPatch{SelectedTier: &starter}.LeavesPaidPlan(sess))
	assert.False(t, StepPatch{SelectedTier: &starter, BillingCycle: &monthly}.LeavesPaidPlan(sess))
	assert.True(t, StepPatch{BillingCycle: &monthly}.LeavesPaidPlan(sess), "tier stays ELITE")
	assert.True(t, StepPatch{SelectedTier: &elite}.LeavesPaidPlan(sess))
	assert.True(t, StepPatch{SelectedTier: &starter, BillingCycle: &yearly}.LeavesPaidPlan(sess))
}
