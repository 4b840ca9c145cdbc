package billing

import "fmt"

// PlanConfig describes a tier in the catalogue.
type PlanConfig struct {
	Tier         Tier
	Name         string
	MonthlyCents int64 // per seat; 0 = no upfront price
	MaxSeats     int   // 0 = unlimited
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Tier]PlanConfig{
	TierFree: {
		Tier:     TierFree,
		Name:     "Free",
		MaxSeats: 1,
	},
	TierCustom: {
		Tier: TierCustom,
		Name: "Pay per use",
	},
	TierStarter: {
		Tier:         TierStarter,
		Name:         "Starter",
		MonthlyCents: 29900,
		MaxSeats:     5,
	},
	TierGrowth: {
		Tier:         TierGrowth,
		Name:         "Growth",
		MonthlyCents: 69900,
		MaxSeats:     25,
	},
	TierElite: {
		Tier:         TierElite,
		Name:         "Elite",
		MonthlyCents: 99900,
		MaxSeats:     100,
	},
	TierEnterprise: {
		Tier: TierEnterprise,
		Name: "Enterprise",
	},
}

// Price returns the amount in cents charged upfront for tier on cycle.
func Price(tier Tier, cycle BillingCycle) (int64, error) {
	cfg, ok := Plans[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if !cycle.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCycle, cycle)
	}
	if cfg.MonthlyCents == 0 {
		return 0, fmt.Errorf("%w: %s", ErrTierNotPurchasable, tier)
	}
	if cycle == CycleYearly {
		return cfg.MonthlyCents * YearlyMultiplier, nil
	}
	return cfg.MonthlyCents, nil
}
