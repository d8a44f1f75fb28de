package plans

import (
	"fmt"

	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// PlanTier is one catalog entry. Tiers are code-defined so that adding one is
// a compile-time-checked change everywhere tier id is matched on.
type PlanTier struct {
	ID                    enums.PlanID
	PhoneNumberLimit      int
	MinutesIncluded       int
	FairUseCallCap        int
	OveragePerMinuteCents int64
	TrialDurationDays     int
	OveragePolicy         enums.OveragePolicy
}

// Catalog resolves plan tiers by id.
type Catalog struct {
	tiers map[enums.PlanID]PlanTier
}

// Default returns the shipped catalog. Limits strictly increase with tier
// order; Validate enforces that on construction.
func Default() *Catalog {
	catalog, err := New([]PlanTier{
		{
			ID:                    enums.PlanStarter,
			PhoneNumberLimit:      1,
			MinutesIncluded:       500,
			FairUseCallCap:        250,
			OveragePerMinuteCents: 25,
			TrialDurationDays:     7,
			OveragePolicy:         enums.OveragePolicyAllow,
		},
		{
			ID:                    enums.PlanGrowth,
			PhoneNumberLimit:      2,
			MinutesIncluded:       1500,
			FairUseCallCap:        750,
			OveragePerMinuteCents: 20,
			TrialDurationDays:     14,
			OveragePolicy:         enums.OveragePolicyAllow,
		},
		{
			ID:                    enums.PlanPro,
			PhoneNumberLimit:      3,
			MinutesIncluded:       5000,
			FairUseCallCap:        2500,
			OveragePerMinuteCents: 15,
			TrialDurationDays:     14,
			OveragePolicy:         enums.OveragePolicyAllow,
		},
	})
	if err != nil {
		// The shipped catalog is static; a violation is a programming error.
		panic(err)
	}
	return catalog
}

// New builds a catalog after validating the tier set.
func New(tiers []PlanTier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("catalog requires at least one tier")
	}

	byID := make(map[enums.PlanID]PlanTier, len(tiers))
	for _, tier := range tiers {
		if !tier.ID.IsValid() {
			return nil, fmt.Errorf("unknown tier id %q", tier.ID)
		}
		if _, dup := byID[tier.ID]; dup {
			return nil, fmt.Errorf("duplicate tier %q", tier.ID)
		}
		if tier.PhoneNumberLimit < 1 {
			return nil, fmt.Errorf("tier %q: phone number limit must be >= 1", tier.ID)
		}
		if tier.MinutesIncluded < 0 || tier.FairUseCallCap < 0 || tier.OveragePerMinuteCents < 0 || tier.TrialDurationDays < 0 {
			return nil, fmt.Errorf("tier %q: negative limit", tier.ID)
		}
		if !tier.OveragePolicy.IsValid() {
			return nil, fmt.Errorf("tier %q: invalid overage policy %q", tier.ID, tier.OveragePolicy)
		}
		byID[tier.ID] = tier
	}

	catalog := &Catalog{tiers: byID}
	if err := catalog.validateOrdering(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// validateOrdering checks that resource limits strictly increase with tier
// order. Upgrade/downgrade delta math relies on it.
func (c *Catalog) validateOrdering() error {
	var prev *PlanTier
	for _, id := range enums.PlanIDs() {
		tier, ok := c.tiers[id]
		if !ok {
			continue
		}
		if prev != nil {
			if tier.PhoneNumberLimit <= prev.PhoneNumberLimit {
				return fmt.Errorf("tier %q phone number limit must exceed %q", tier.ID, prev.ID)
			}
			if tier.MinutesIncluded <= prev.MinutesIncluded {
				return fmt.Errorf("tier %q minutes included must exceed %q", tier.ID, prev.ID)
			}
			if tier.FairUseCallCap <= prev.FairUseCallCap {
				return fmt.Errorf("tier %q fair use cap must exceed %q", tier.ID, prev.ID)
			}
		}
		t := tier
		prev = &t
	}
	return nil
}

// Get resolves a tier by id.
func (c *Catalog) Get(id enums.PlanID) (PlanTier, error) {
	tier, ok := c.tiers[id]
	if !ok {
		return PlanTier{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %q not in catalog", id))
	}
	return tier, nil
}

// MustGet resolves a tier that is known to exist (callers pass validated ids).
func (c *Catalog) MustGet(id enums.PlanID) PlanTier {
	tier, err := c.Get(id)
	if err != nil {
		panic(err)
	}
	return tier
}

// Tiers lists the catalog in upgrade order.
func (c *Catalog) Tiers() []PlanTier {
	out := make([]PlanTier, 0, len(c.tiers))
	for _, id := range enums.PlanIDs() {
		if tier, ok := c.tiers[id]; ok {
			out = append(out, tier)
		}
	}
	return out
}
