package enums

import "fmt"

// PlanID identifies a subscription tier in the catalog.
type PlanID string

const (
	PlanStarter PlanID = "starter"
	PlanGrowth  PlanID = "growth"
	PlanPro     PlanID = "pro"
)

var validPlanIDs = []PlanID{
	PlanStarter,
	PlanGrowth,
	PlanPro,
}

// String implements fmt.Stringer.
func (p PlanID) String() string {
	return string(p)
}

// IsValid reports whether the value is a catalog tier.
func (p PlanID) IsValid() bool {
	for _, candidate := range validPlanIDs {
		if candidate == p {
			return true
		}
	}
	return false
}

// Order returns the tier's position in the upgrade ordering. Higher tiers
// carry strictly higher resource limits.
func (p PlanID) Order() int {
	switch p {
	case PlanStarter:
		return 0
	case PlanGrowth:
		return 1
	case PlanPro:
		return 2
	default:
		return -1
	}
}

// ParsePlanID converts raw input into a PlanID.
func ParsePlanID(value string) (PlanID, error) {
	for _, candidate := range validPlanIDs {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan id %q", value)
}

// PlanIDs returns every catalog tier in upgrade order.
func PlanIDs() []PlanID {
	out := make([]PlanID, len(validPlanIDs))
	copy(out, validPlanIDs)
	return out
}
