package enums

// OveragePolicy decides what happens once an account exceeds its plan's
// fair-use call cap.
type OveragePolicy string

const (
	// OveragePolicyAllow keeps calls flowing past the cap, billed per minute.
	OveragePolicyAllow OveragePolicy = "allow_overage"
	// OveragePolicyStrict blocks new calls once the cap is reached.
	OveragePolicyStrict OveragePolicy = "strict_cap"
)

func (p OveragePolicy) String() string {
	return string(p)
}

func (p OveragePolicy) IsValid() bool {
	return p == OveragePolicyAllow || p == OveragePolicyStrict
}
