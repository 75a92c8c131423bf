package core_test

import (
	"testing"

	"github.com/CDCgov/ixa-sub000/core"
)

type propPerson struct{}

// Test properties are declared at package level: the registry freezes on the
// first entity creation, and registering a property after that panics.
var propHeight = core.NewExplicitProperty[propPerson, int]("propPerson_height")

func TestExplicitPropertyRoundTrip(t *testing.T) {
	height := propHeight
	ctx := core.NewContext()

	id, err := core.NewEntity[propPerson](ctx, height.Assign(170))
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}

	if got := height.Get(ctx, id); got != 170 {
		t.Fatalf("expected 170, got %d", got)
	}

	height.Set(ctx, id, 180)
	if got := height.Get(ctx, id); got != 180 {
		t.Fatalf("expected 180 after set, got %d", got)
	}
}

func TestExplicitPropertyRequiredAtCreation(t *testing.T) {
	ctx := core.NewContext()

	_, err := core.NewEntity[propPersonRequired](ctx)
	if err == nil {
		t.Fatal("expected an error creating an entity missing a required explicit property")
	}
}

type propPersonRequired struct{}

var _ = core.NewExplicitProperty[propPersonRequired, int]("propPersonRequired_age")

var constStatus = core.NewConstantProperty[propPersonConst, string]("propPersonConst_status", "Susceptible")

func TestConstantPropertyDefaultWithoutSet(t *testing.T) {
	status := constStatus
	ctx := core.NewContext()

	id, err := core.NewEntity[propPersonConst](ctx)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}

	if got := status.Get(ctx, id); got != "Susceptible" {
		t.Fatalf("expected default Susceptible, got %q", got)
	}

	status.Set(ctx, id, "Infected")
	if got := status.Get(ctx, id); got != "Infected" {
		t.Fatalf("expected Infected after explicit set, got %q", got)
	}
}

type propPersonConst struct{}

type propPersonDerived struct{}

var (
	derivedAge   = core.NewExplicitProperty[propPersonDerived, int]("propPersonDerived_age")
	derivedGroup = core.NewDerivedProperty[propPersonDerived, string]("propPersonDerived_group", []core.PropertyID{derivedAge.ID()},
		func(ctx *core.Context, id core.EntityID[propPersonDerived]) string {
			switch a := derivedAge.Get(ctx, id); {
			case a < 18:
				return "Child"
			case a < 65:
				return "Adult"
			default:
				return "Senior"
			}
		})
)

func TestDerivedPropertyRecomputesFromDependency(t *testing.T) {
	age, group := derivedAge, derivedGroup
	ctx := core.NewContext()
	child, _ := core.NewEntity[propPersonDerived](ctx, age.Assign(12))
	adult, _ := core.NewEntity[propPersonDerived](ctx, age.Assign(44))
	senior, _ := core.NewEntity[propPersonDerived](ctx, age.Assign(92))

	if got := group.Get(ctx, child); got != "Child" {
		t.Fatalf("expected Child, got %q", got)
	}
	if got := group.Get(ctx, adult); got != "Adult" {
		t.Fatalf("expected Adult, got %q", got)
	}
	if got := group.Get(ctx, senior); got != "Senior" {
		t.Fatalf("expected Senior, got %q", got)
	}

	var events []core.PropertyChangeEvent[propPersonDerived, string]
	core.Subscribe(ctx, group, func(ev core.PropertyChangeEvent[propPersonDerived, string]) {
		events = append(events, ev)
	})

	age.Set(ctx, child, 18)
	if got := group.Get(ctx, child); got != "Adult" {
		t.Fatalf("expected Adult after age update, got %q", got)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 AgeGroup change event, got %d", len(events))
	}
	if events[0].Previous != "Child" || events[0].Current != "Adult" {
		t.Fatalf("unexpected event contents: %+v", events[0])
	}
}

var noopStatus = core.NewConstantProperty[propPersonNoop, string]("propPersonNoop_status", "Susceptible")

func TestChangeEventNotEmittedWhenValueUnchanged(t *testing.T) {
	status := noopStatus
	ctx := core.NewContext()
	id, _ := core.NewEntity[propPersonNoop](ctx)

	var events int
	core.Subscribe(ctx, status, func(core.PropertyChangeEvent[propPersonNoop, string]) {
		events++
	})

	status.Set(ctx, id, "Susceptible")
	if events != 0 {
		t.Fatalf("expected no event when value does not change, got %d", events)
	}

	status.Set(ctx, id, "Infected")
	if events != 1 {
		t.Fatalf("expected exactly 1 event after a real change, got %d", events)
	}
}

type propPersonNoop struct{}

var createdAge = core.NewExplicitProperty[propPersonCreated, int]("propPersonCreated_age")

func TestEntityCreatedEventFiresAfterExplicitPropertiesAreWritten(t *testing.T) {
	age := createdAge
	ctx := core.NewContext()

	var observedAge int
	var fired bool
	core.SubscribeEntityCreated(ctx, func(ev core.EntityCreatedEvent[propPersonCreated]) {
		fired = true
		observedAge = age.Get(ctx, ev.EntityID)
	})

	_, err := core.NewEntity[propPersonCreated](ctx, age.Assign(33))
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	if !fired {
		t.Fatal("expected EntityCreatedEvent to fire")
	}
	if observedAge != 33 {
		t.Fatalf("expected explicit property visible inside the created handler, got %d", observedAge)
	}
}

type propPersonCreated struct{}

var uninitHeight = core.NewExplicitProperty[propPersonUninit, int]("propPersonUninit_height")

func TestReadingUninitializedExplicitPropertyPanics(t *testing.T) {
	height := uninitHeight
	ctx := core.NewContext()

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic reading an uninitialized explicit property")
		}
	}()
	height.Get(ctx, core.EntityID[propPersonUninit]{Index: 0})
}

type propPersonUninit struct{}

var kindChangeStatus = core.NewExplicitProperty[propPersonKindChange, string]("propPersonKindChange_status")

func TestIndexKindChangePanics(t *testing.T) {
	status := kindChangeStatus
	ctx := core.NewContext()
	core.IndexProperty(ctx, status, core.IndexFull)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic changing an installed index's kind")
		}
	}()
	core.IndexProperty(ctx, status, core.IndexCountOnly)
}

type propPersonKindChange struct{}
