package core

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"resourcecore/pkg/domain"
)

type rejectAllRule struct{}

func (rejectAllRule) Name() string { return "reject_all" }

func (r rejectAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{blockViolation(r.Name(), changes[0].Entity, 0, "rejected")}}, nil
}

func TestDefaultRulesEngineRegistersGuards(t *testing.T) {
	want := []string{
		"resource_delete_guard",
		"resource_type_delete_guard",
		"screen_slot_integrity",
		"unique_names",
		"screen_slot_uniqueness",
	}
	if got := NewDefaultRulesEngine().Rules(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func requireBlockedBy(t *testing.T, err error, rule string) {
	t.Helper()
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	for _, v := range violation.Result.Violations {
		if v.Rule == rule && v.Severity == domain.SeverityBlock {
			return
		}
	}
	t.Fatalf("expected %s to block, got %+v", rule, violation.Result.Violations)
}

func TestResourceDeleteGuard(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newService func(...ServiceOption) *Service) {
		svc := newService()
		ctx := context.Background()
		rt := mustCreateType(t, svc, ResourceType{Name: "Table"})
		withHistory := mustCreateResource(t, svc, Resource{ResourceTypeID: rt.ID, Name: "T1"})
		onScreen := mustCreateResource(t, svc, Resource{ResourceTypeID: rt.ID, Name: "T2"})
		free := mustCreateResource(t, svc, Resource{ResourceTypeID: rt.ID, Name: "T3"})
		if err := svc.SetState(ctx, withHistory.ID, 1); err != nil {
			t.Fatalf("SetState: %v", err)
		}
		if _, _, err := svc.CreateScreen(ctx, Screen{Name: "Main", PageCount: 1, Slots: []ScreenSlot{{ResourceID: onScreen.ID}}}); err != nil {
			t.Fatalf("CreateScreen: %v", err)
		}

		_, err := svc.DeleteResource(ctx, withHistory.ID)
		requireBlockedBy(t, err, "resource_delete_guard")
		_, err = svc.DeleteResource(ctx, onScreen.ID)
		requireBlockedBy(t, err, "resource_delete_guard")
		if _, err := svc.DeleteResource(ctx, free.ID); err != nil {
			t.Fatalf("delete free resource: %v", err)
		}
		if _, ok, _ := svc.GetResourceByID(ctx, withHistory.ID); !ok {
			t.Fatalf("blocked delete must roll back")
		}
	})
}

func TestResourceTypeDeleteGuard(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newService func(...ServiceOption) *Service) {
		svc := newService()
		ctx := context.Background()
		used := mustCreateType(t, svc, ResourceType{Name: "Table"})
		unused := mustCreateType(t, svc, ResourceType{Name: "Room"})
		mustCreateResource(t, svc, Resource{ResourceTypeID: used.ID, Name: "T1"})

		_, err := svc.DeleteResourceType(ctx, used.ID)
		requireBlockedBy(t, err, "resource_type_delete_guard")
		if _, err := svc.DeleteResourceType(ctx, unused.ID); err != nil {
			t.Fatalf("delete unused type: %v", err)
		}
	})
}

func TestScreenSlotIntegrity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newService func(...ServiceOption) *Service) {
		svc := newService()
		ctx := context.Background()
		rt := mustCreateType(t, svc, ResourceType{Name: "Table"})
		r := mustCreateResource(t, svc, Resource{ResourceTypeID: rt.ID, Name: "T1"})

		_, _, err := svc.CreateScreen(ctx, Screen{Name: "Ghost", PageCount: 1, Slots: []ScreenSlot{{ResourceID: 999}}})
		requireBlockedBy(t, err, "screen_slot_integrity")
		_, _, err = svc.CreateScreen(ctx, Screen{Name: "Empty slot", PageCount: 1, Slots: []ScreenSlot{{ResourceID: 0}}})
		requireBlockedBy(t, err, "screen_slot_integrity")

		screen, _, err := svc.CreateScreen(ctx, Screen{Name: "Main", PageCount: 1, Slots: []ScreenSlot{{ResourceID: r.ID}}})
		if err != nil {
			t.Fatalf("CreateScreen: %v", err)
		}
		_, _, err = svc.UpdateScreen(ctx, screen.ID, func(sc *Screen) error {
			sc.Slots = append(sc.Slots, ScreenSlot{ResourceID: 12345, Order: 1})
			return nil
		})
		requireBlockedBy(t, err, "screen_slot_integrity")
	})
}

func TestScreenSlotUniquenessOnlyWarns(t *testing.T) {
	log := &captureLogger{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithLogger(log))
	ctx := context.Background()
	rt := mustCreateType(t, svc, ResourceType{Name: "Table"})
	r := mustCreateResource(t, svc, Resource{ResourceTypeID: rt.ID, Name: "T1"})

	screen, res, err := svc.CreateScreen(ctx, Screen{Name: "Twice", PageCount: 1, Slots: []ScreenSlot{
		{ResourceID: r.ID, Order: 0}, {ResourceID: r.ID, Order: 1},
	}})
	if err != nil {
		t.Fatalf("CreateScreen: %v", err)
	}
	if screen.ID == 0 || len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected one warning, got %+v", res.Violations)
	}
	if log.count("w:rule violation") != 1 {
		t.Fatalf("expected the warning to be logged, got %v", log.calls)
	}
}

func TestUniqueNames(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newService func(...ServiceOption) *Service) {
		svc := newService()
		ctx := context.Background()
		tables := mustCreateType(t, svc, ResourceType{Name: "Table"})
		rooms := mustCreateType(t, svc, ResourceType{Name: "Room"})

		_, _, err := svc.CreateResourceType(ctx, ResourceType{Name: "  table "})
		requireBlockedBy(t, err, "unique_names")

		mustCreateResource(t, svc, Resource{ResourceTypeID: tables.ID, Name: "Window"})
		_, _, err = svc.CreateResource(ctx, Resource{ResourceTypeID: tables.ID, Name: "WINDOW"})
		requireBlockedBy(t, err, "unique_names")
		// The same name under another type is allowed.
		mustCreateResource(t, svc, Resource{ResourceTypeID: rooms.ID, Name: "Window"})

		other := mustCreateResource(t, svc, Resource{ResourceTypeID: tables.ID, Name: "Door"})
		_, _, err = svc.UpdateResource(ctx, other.ID, func(r *Resource) error {
			r.Name = "window"
			return nil
		})
		requireBlockedBy(t, err, "unique_names")
		renamed, _, err := svc.UpdateResource(ctx, other.ID, func(r *Resource) error {
			r.Name = "Door "
			return nil
		})
		if err != nil || !strings.HasPrefix(renamed.Name, "Door") {
			t.Fatalf("renaming to itself must pass: %v", err)
		}
	})
}

func TestRulesEvaluateOnlyOnChanges(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(rejectAllRule{})
	svc := NewInMemoryService(engine)
	// Reads open no transaction and never reach the engine.
	if _, err := svc.ListStates(context.Background()); err != nil {
		t.Fatalf("ListStates: %v", err)
	}
	// An idempotent state change records nothing, so nothing is evaluated.
	if err := svc.SetState(context.Background(), 5, 0); err != nil {
		t.Fatalf("SetState: %v", err)
	}
}
