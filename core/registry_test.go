package core_test

import (
	"testing"

	"github.com/CDCgov/ixa-sub000/core"
)

type regPersonA struct{}
type regPersonB struct{}

func TestEntityTypeIDsAreDistinctAndIdempotent(t *testing.T) {
	a1 := core.EntityTypeID[regPersonA]()
	a2 := core.EntityTypeID[regPersonA]()
	b := core.EntityTypeID[regPersonB]()

	if a1 != a2 {
		t.Fatalf("EntityTypeID[regPersonA] not idempotent: %d != %d", a1, a2)
	}
	if a1 == b {
		t.Fatalf("distinct entity types got the same id: %d", a1)
	}
}

// Test properties are declared at package level: the registry freezes on the
// first entity creation, and registering a property after that panics.
var (
	regHeight = core.NewExplicitProperty[regPersonA, int]("regA_height")
	regWeight = core.NewExplicitProperty[regPersonA, int]("regA_weight")
	regStatus = core.NewConstantProperty[regPersonA, string]("regA_status", "ok")

	regAge      = core.NewExplicitProperty[regPersonA, int]("regA_age_for_dependents")
	regAgeGroup = core.NewDerivedProperty[regPersonA, string]("regA_age_group_for_dependents", []core.PropertyID{regAge.ID()},
		func(ctx *core.Context, id core.EntityID[regPersonA]) string {
			if regAge.Get(ctx, id) < 18 {
				return "Child"
			}
			return "Adult"
		})
)

func TestPropertyIDsArePairwiseDistinct(t *testing.T) {
	p1, p2, p3 := regHeight, regWeight, regStatus

	ids := map[core.PropertyID]bool{p1.ID(): true, p2.ID(): true, p3.ID(): true}
	if len(ids) != 3 {
		t.Fatalf("expected 3 distinct property ids, got %d", len(ids))
	}
}

func TestDependentsOfTracksDerivedTransitiveDependencies(t *testing.T) {
	age, group := regAge, regAgeGroup

	deps := core.DependentsOf(age.ID())
	found := false
	for _, d := range deps {
		if d == group.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q in dependents of %q", group.Name(), age.Name())
	}
}
