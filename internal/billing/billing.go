// Package billing holds the plan catalogue and the payment processor port
// used during onboarding, together with its Stripe implementation.
package billing

import (
	"errors"
	"strings"
)

var (
	ErrUnknownTier        = errors.New("billing: unknown tier")
	ErrUnknownCycle       = errors.New("billing: unknown billing cycle")
	ErrTierNotPurchasable = errors.New("billing: tier has no upfront price")
)

// Tier identifies a subscription tier.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierCustom     Tier = "CUSTOM"
	TierStarter    Tier = "STARTER"
	TierGrowth     Tier = "GROWTH"
	TierElite      Tier = "ELITE"
	TierEnterprise Tier = "ENTERPRISE"
)

// BillingCycle is how often a subscription is charged.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "MONTHLY"
	CycleYearly  BillingCycle = "YEARLY"
)

// YearlyMultiplier is the number of monthly prices charged for a year.
// Yearly billing gives two months free.
const YearlyMultiplier = 10

// ParseTier normalises s and reports whether it names a known tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := Plans[t]
	return t, ok
}

// ParseCycle normalises s and reports whether it names a known cycle.
func ParseCycle(s string) (BillingCycle, bool) {
	c := BillingCycle(strings.ToUpper(strings.TrimSpace(s)))
	return c, c == CycleMonthly || c == CycleYearly
}

// Valid reports whether t is in the catalogue.
func (t Tier) Valid() bool {
	_, ok := Plans[t]
	return ok
}

// Priced reports whether t carries an upfront price, i.e. whether payment
// must succeed before onboarding can complete.
func (t Tier) Priced() bool {
	return Plans[t].MonthlyCents > 0
}

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}
