package entitlements

import "strings"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanFamily     Plan = "family"
	PlanFamilyPlus Plan = "family_plus"
)

// Limits are the per-plan entitlement caps written onto a group when its
// subscription state changes.
type Limits struct {
	MaxMembers         int
	MaxGroups          int
	FreeGroupTaskLimit int
	// MonthlyFreeTokens is the free-pool allotment granted on each monthly
	// reset of a group's token balance.
	MonthlyFreeTokens int64
}

var planLimits = map[Plan]Limits{
	PlanFree:       {MaxMembers: 4, MaxGroups: 1, FreeGroupTaskLimit: 30, MonthlyFreeTokens: 50},
	PlanFamily:     {MaxMembers: 8, MaxGroups: 3, FreeGroupTaskLimit: 30, MonthlyFreeTokens: 200},
	PlanFamilyPlus: {MaxMembers: 15, MaxGroups: 10, FreeGroupTaskLimit: 30, MonthlyFreeTokens: 500},
}

// NormalizePlan maps arbitrary input to a known plan, defaulting to free.
func NormalizePlan(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanFamily):
		return PlanFamily
	case string(PlanFamilyPlus):
		return PlanFamilyPlus
	default:
		return PlanFree
	}
}

// LimitsFor returns the entitlement caps for a plan.
func LimitsFor(plan Plan) Limits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// FreeTier returns the limits a group reverts to on hard expiry.
func FreeTier() Limits {
	return planLimits[PlanFree]
}
