package plans

import (
	"testing"

	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

func TestDefaultCatalogOrdering(t *testing.T) {
	catalog := Default()

	tiers := catalog.Tiers()
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(tiers))
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].PhoneNumberLimit <= tiers[i-1].PhoneNumberLimit {
			t.Fatalf("phone number limits must strictly increase: %+v", tiers)
		}
		if tiers[i].MinutesIncluded <= tiers[i-1].MinutesIncluded {
			t.Fatalf("included minutes must strictly increase: %+v", tiers)
		}
		if tiers[i].FairUseCallCap <= tiers[i-1].FairUseCallCap {
			t.Fatalf("fair use caps must strictly increase: %+v", tiers)
		}
	}
}

func TestGetUnknownTier(t *testing.T) {
	catalog := Default()
	_, err := catalog.Get(enums.PlanID("enterprise"))
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewRejectsNonMonotonicLimits(t *testing.T) {
	_, err := New([]PlanTier{
		{ID: enums.PlanStarter, PhoneNumberLimit: 2, MinutesIncluded: 500, FairUseCallCap: 100, OveragePolicy: enums.OveragePolicyAllow},
		{ID: enums.PlanGrowth, PhoneNumberLimit: 2, MinutesIncluded: 1500, FairUseCallCap: 300, OveragePolicy: enums.OveragePolicyAllow},
	})
	if err == nil {
		t.Fatal("expected ordering violation")
	}
}

func TestNewRejectsZeroPhoneLimit(t *testing.T) {
	_, err := New([]PlanTier{
		{ID: enums.PlanStarter, PhoneNumberLimit: 0, OveragePolicy: enums.OveragePolicyAllow},
	})
	if err == nil {
		t.Fatal("expected phone limit validation error")
	}
}

func TestNewRejectsDuplicateTier(t *testing.T) {
	_, err := New([]PlanTier{
		{ID: enums.PlanStarter, PhoneNumberLimit: 1, OveragePolicy: enums.OveragePolicyAllow},
		{ID: enums.PlanStarter, PhoneNumberLimit: 2, OveragePolicy: enums.OveragePolicyAllow},
	})
	if err == nil {
		t.Fatal("expected duplicate tier error")
	}
}
