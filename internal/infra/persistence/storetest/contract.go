// Package storetest holds the behavioural contract every persistent store
// implementation must satisfy. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"resourcecore/pkg/domain"
)

// Factory builds an empty store using the provided rules engine.
type Factory func(t *testing.T, engine *domain.RulesEngine) domain.PersistentStore

// Run executes the full contract against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	t.Run("LatestStateFollowsGreatestEventID", func(t *testing.T) { latestStateFollowsGreatestEventID(t, factory) })
	t.Run("ReplayedEventsResolveByID", func(t *testing.T) { replayedEventsResolveByID(t, factory) })
	t.Run("LatestStatesBatchesLargeInputs", func(t *testing.T) { latestStatesBatchesLargeInputs(t, factory) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { rollbackDiscardsWrites(t, factory) })
	t.Run("BlockingRuleRollsBack", func(t *testing.T) { blockingRuleRollsBack(t, factory) })
	t.Run("QueryResourcesMatchesDataAndName", func(t *testing.T) { queryResourcesMatchesDataAndName(t, factory) })
	t.Run("QueryResourcesFoldsNonASCIINames", func(t *testing.T) { queryResourcesFoldsNonASCIINames(t, factory) })
	t.Run("ResourceTypeFieldsRoundTrip", func(t *testing.T) { resourceTypeFieldsRoundTrip(t, factory) })
	t.Run("ScreenSlotsRoundTrip", func(t *testing.T) { screenSlotsRoundTrip(t, factory) })
	t.Run("ResourcesInState", func(t *testing.T) { resourcesInState(t, factory) })
	t.Run("MissingEntitiesReportNotFound", func(t *testing.T) { missingEntitiesReportNotFound(t, factory) })
}

func mustTx(t *testing.T, store domain.PersistentStore, fn func(domain.Transaction) error) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func mustView(t *testing.T, store domain.PersistentStore, fn func(domain.TransactionView) error) {
	t.Helper()
	if err := store.View(context.Background(), fn); err != nil {
		t.Fatalf("View: %v", err)
	}
}

func latestStateFollowsGreatestEventID(t *testing.T, factory Factory) {
	store := factory(t, nil)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	mustTx(t, store, func(tx domain.Transaction) error {
		// dates run backwards so only the id ordering can pick the winner
		for i, stateID := range []int64{2, 5, 3} {
			e := domain.StateChangeEvent{ResourceID: 10, StateID: stateID, Date: base.Add(-time.Duration(i) * time.Hour)}
			if _, err := tx.AppendStateEvent(e); err != nil {
				return err
			}
		}
		_, err := tx.AppendStateEvent(domain.StateChangeEvent{ResourceID: 11, StateID: 4})
		return err
	})
	mustView(t, store, func(v domain.TransactionView) error {
		latest, err := v.LatestStates([]int64{10, 11, 99})
		if err != nil {
			return err
		}
		if latest[10] != 3 || latest[11] != 4 {
			t.Fatalf("unexpected latest states: %v", latest)
		}
		if _, ok := latest[99]; ok {
			t.Fatalf("resource without events must be absent: %v", latest)
		}
		last, ok, err := v.LastStateEvent(10)
		if err != nil || !ok || last.StateID != 3 {
			t.Fatalf("unexpected last event %+v ok=%v err=%v", last, ok, err)
		}
		if !last.Date.Equal(base.Add(-2 * time.Hour)) {
			t.Fatalf("expected stored date to survive, got %s", last.Date)
		}
		history, err := v.ListStateEvents(10)
		if err != nil {
			return err
		}
		if len(history) != 3 || history[0].ID >= history[1].ID || history[1].ID >= history[2].ID {
			t.Fatalf("expected history ordered by id, got %+v", history)
		}
		count, err := v.CountStateEvents(10)
		if err != nil || count != 3 {
			t.Fatalf("expected 3 events, got %d (%v)", count, err)
		}
		return nil
	})
}

func replayedEventsResolveByID(t *testing.T, factory Factory) {
	store := factory(t, nil)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mustTx(t, store, func(tx domain.Transaction) error {
		for _, e := range []domain.StateChangeEvent{
			{ID: 1, ResourceID: 7, StateID: 0, Date: base.Add(2 * time.Hour)},
			{ID: 5, ResourceID: 7, StateID: 2, Date: base},
			{ID: 3, ResourceID: 7, StateID: 1, Date: base.Add(time.Hour)},
		} {
			if _, err := tx.AppendStateEvent(e); err != nil {
				return err
			}
		}
		return nil
	})
	var next domain.StateChangeEvent
	mustTx(t, store, func(tx domain.Transaction) error {
		var err error
		next, err = tx.AppendStateEvent(domain.StateChangeEvent{ResourceID: 8, StateID: 1})
		return err
	})
	if next.ID <= 5 {
		t.Fatalf("expected generated id after replayed ids, got %d", next.ID)
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.AppendStateEvent(domain.StateChangeEvent{ID: 3, ResourceID: 9, StateID: 1})
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate event id to be rejected")
	}
	mustView(t, store, func(v domain.TransactionView) error {
		latest, err := v.LatestStates([]int64{7})
		if err != nil {
			return err
		}
		if latest[7] != 2 {
			t.Fatalf("expected state of event 5, got %v", latest)
		}
		last, ok, err := v.LastStateEvent(7)
		if err != nil || !ok || last.ID != 5 {
			t.Fatalf("expected last event 5, got %+v ok=%v err=%v", last, ok, err)
		}
		return nil
	})
}

func latestStatesBatchesLargeInputs(t *testing.T, factory Factory) {
	store := factory(t, nil)
	const n = 1203
	mustTx(t, store, func(tx domain.Transaction) error {
		for id := int64(1); id <= n; id++ {
			if _, err := tx.AppendStateEvent(domain.StateChangeEvent{ResourceID: id, StateID: id%7 + 1}); err != nil {
				return err
			}
		}
		return nil
	})
	ids := make([]int64, 0, n)
	for id := int64(1); id <= n; id++ {
		ids = append(ids, id)
	}
	mustView(t, store, func(v domain.TransactionView) error {
		latest, err := v.LatestStates(ids)
		if err != nil {
			return err
		}
		if len(latest) != n {
			t.Fatalf("expected %d states, got %d", n, len(latest))
		}
		for _, id := range []int64{1, 500, 501, 1000, 1203} {
			if latest[id] != id%7+1 {
				t.Fatalf("resource %d: expected state %d, got %d", id, id%7+1, latest[id])
			}
		}
		return nil
	})
}

func rollbackDiscardsWrites(t *testing.T, factory Factory) {
	store := factory(t, nil)
	abort := errors.New("abort")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateResource(domain.Resource{ResourceTypeID: 1, Name: "Temp"}); err != nil {
			return err
		}
		if _, err := tx.AppendStateEvent(domain.StateChangeEvent{ResourceID: 1, StateID: 2}); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	mustView(t, store, func(v domain.TransactionView) error {
		resources, err := v.ListResources()
		if err != nil {
			return err
		}
		events, err := v.ListAllStateEvents()
		if err != nil {
			return err
		}
		if len(resources) != 0 || len(events) != 0 {
			t.Fatalf("expected rollback, got resources=%v events=%v", resources, events)
		}
		return nil
	})
}

type rejectAppends struct{}

func (rejectAppends) Name() string { return "reject_appends" }

func (rejectAppends) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity == domain.EntityStateEvent {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "reject_appends",
				Severity: domain.SeverityBlock,
				Message:  "appends disabled",
				Entity:   domain.EntityStateEvent,
			})
		}
	}
	return res, nil
}

func blockingRuleRollsBack(t *testing.T, factory Factory) {
	engine := domain.NewRulesEngine()
	engine.Register(rejectAppends{})
	store := factory(t, engine)
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.AppendStateEvent(domain.StateChangeEvent{ResourceID: 3, StateID: 1})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result, got %+v", res)
	}
	mustView(t, store, func(v domain.TransactionView) error {
		events, err := v.ListAllStateEvents()
		if err != nil {
			return err
		}
		if len(events) != 0 {
			t.Fatalf("expected no events after violation, got %v", events)
		}
		return nil
	})
}

func queryResourcesMatchesDataAndName(t *testing.T, factory Factory) {
	store := factory(t, nil)
	mustTx(t, store, func(tx domain.Transaction) error {
		for _, r := range []domain.Resource{
			{ResourceTypeID: 1, Name: "Room 101", CustomData: `[{"Name":"Floor","Value":"1"}]`},
			{ResourceTypeID: 1, Name: "Lab", CustomData: `[{"Name":"Room","Value":"B"}]`},
			{ResourceTypeID: 2, Name: "room service", CustomData: ""},
			{ResourceTypeID: 2, Name: "Other", CustomData: `[{"Name":"Note","Value":"ROOM"}]`},
		} {
			if _, err := tx.CreateResource(r); err != nil {
				return err
			}
		}
		return nil
	})
	mustView(t, store, func(v domain.TransactionView) error {
		found, err := v.QueryResources(domain.ResourceQuery{Search: "Room"})
		if err != nil {
			return err
		}
		// name matches ignore case; custom data matches are raw
		if names := resourceNames(found); !equalStrings(names, []string{"Room 101", "Lab", "room service"}) {
			t.Fatalf("unexpected matches: %v", names)
		}
		found, err = v.QueryResources(domain.ResourceQuery{ResourceTypeID: 2, Search: "room"})
		if err != nil {
			return err
		}
		if names := resourceNames(found); !equalStrings(names, []string{"room service"}) {
			t.Fatalf("unexpected typed matches: %v", names)
		}
		found, err = v.QueryResources(domain.ResourceQuery{Limit: 2})
		if err != nil {
			return err
		}
		if len(found) != 2 || found[0].ID >= found[1].ID {
			t.Fatalf("expected first two resources by id, got %+v", found)
		}
		return nil
	})
}

func queryResourcesFoldsNonASCIINames(t *testing.T, factory Factory) {
	store := factory(t, nil)
	mustTx(t, store, func(tx domain.Transaction) error {
		for _, name := range []string{"ÇARDAK 1", "Şölen Salonu", "Cardak"} {
			if _, err := tx.CreateResource(domain.Resource{ResourceTypeID: 1, Name: name}); err != nil {
				return err
			}
		}
		return nil
	})
	mustView(t, store, func(v domain.TransactionView) error {
		for search, want := range map[string][]string{
			"çardak": {"ÇARDAK 1"},
			"ŞÖLEN":  {"Şölen Salonu"},
			"cardak": {"Cardak"},
		} {
			found, err := v.QueryResources(domain.ResourceQuery{Search: search})
			if err != nil {
				return err
			}
			if names := resourceNames(found); !equalStrings(names, want) {
				t.Fatalf("search %q: expected %v, got %v", search, want, names)
			}
		}
		return nil
	})
}

func resourceTypeFieldsRoundTrip(t *testing.T, factory Factory) {
	store := factory(t, nil)
	var created domain.ResourceType
	mustTx(t, store, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateResourceType(domain.ResourceType{
			Name: "Room",
			Fields: []domain.CustomField{
				{Name: "Floor"},
				{Name: "Secret", Hidden: true},
				{Name: "Code", MatchExpr: `value == search`},
			},
		})
		return err
	})
	mustTx(t, store, func(tx domain.Transaction) error {
		_, err := tx.UpdateResourceType(created.ID, func(rt *domain.ResourceType) error {
			rt.EntityName = "rooms"
			return nil
		})
		return err
	})
	mustView(t, store, func(v domain.TransactionView) error {
		got, ok, err := v.FindResourceType(created.ID)
		if err != nil || !ok {
			t.Fatalf("FindResourceType ok=%v err=%v", ok, err)
		}
		if got.EntityName != "rooms" || len(got.Fields) != 3 || !got.Fields[1].Hidden || got.Fields[2].MatchExpr == "" {
			t.Fatalf("unexpected resource type: %+v", got)
		}
		return nil
	})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateResourceType(domain.ResourceType{Name: "Bad", Fields: []domain.CustomField{{Name: "A"}, {Name: "a"}}})
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate field names to be rejected")
	}
}

func screenSlotsRoundTrip(t *testing.T, factory Factory) {
	store := factory(t, nil)
	var screen domain.Screen
	mustTx(t, store, func(tx domain.Transaction) error {
		var err error
		screen, err = tx.CreateScreen(domain.Screen{
			Name:             "Lobby",
			PageCount:        2,
			ItemCountPerPage: 2,
			Slots: []domain.ScreenSlot{
				{ResourceID: 1, Order: 2},
				{ResourceID: 2, Order: 1},
				{ResourceID: 3, Order: 3},
			},
		})
		return err
	})
	for _, slot := range screen.Slots {
		if slot.ID == 0 {
			t.Fatalf("expected slot ids to be assigned: %+v", screen.Slots)
		}
	}
	keep := screen.Slots[0].ID
	mustTx(t, store, func(tx domain.Transaction) error {
		_, err := tx.UpdateScreen(screen.ID, func(sc *domain.Screen) error {
			sc.Slots = []domain.ScreenSlot{
				{ID: keep, ResourceID: 1, Order: 5, ResourceStateID: 9},
				{ResourceID: 4, Order: 6},
			}
			return nil
		})
		return err
	})
	mustView(t, store, func(v domain.TransactionView) error {
		got, ok, err := v.FindScreen(screen.ID)
		if err != nil || !ok {
			t.Fatalf("FindScreen ok=%v err=%v", ok, err)
		}
		if got.Name != "Lobby" || got.PageCount != 2 || got.ItemCountPerPage != 2 || len(got.Slots) != 2 {
			t.Fatalf("unexpected screen: %+v", got)
		}
		var kept bool
		for _, slot := range got.Slots {
			if slot.ID == keep {
				kept = slot.Order == 5 && slot.ResourceStateID == 9
			}
		}
		if !kept {
			t.Fatalf("expected slot %d updated in place, got %+v", keep, got.Slots)
		}
		return nil
	})
	mustTx(t, store, func(tx domain.Transaction) error { return tx.DeleteScreen(screen.ID) })
	mustView(t, store, func(v domain.TransactionView) error {
		screens, err := v.ListScreens()
		if err != nil {
			return err
		}
		if len(screens) != 0 {
			t.Fatalf("expected screen removed, got %+v", screens)
		}
		return nil
	})
}

func resourcesInState(t *testing.T, factory Factory) {
	store := factory(t, nil)
	mustTx(t, store, func(tx domain.Transaction) error {
		a, err := tx.CreateResource(domain.Resource{ResourceTypeID: 1, Name: "A"})
		if err != nil {
			return err
		}
		b, err := tx.CreateResource(domain.Resource{ResourceTypeID: 2, Name: "B"})
		if err != nil {
			return err
		}
		c, err := tx.CreateResource(domain.Resource{ResourceTypeID: 1, Name: "C"})
		if err != nil {
			return err
		}
		for _, e := range []domain.StateChangeEvent{
			{ResourceID: a.ID, StateID: 1},
			{ResourceID: b.ID, StateID: 1},
			{ResourceID: c.ID, StateID: 1},
			{ResourceID: c.ID, StateID: 2},
		} {
			if _, err := tx.AppendStateEvent(e); err != nil {
				return err
			}
		}
		return nil
	})
	mustView(t, store, func(v domain.TransactionView) error {
		all, err := v.ResourcesInState(1, 0)
		if err != nil {
			return err
		}
		if names := resourceNames(all); !equalStrings(names, []string{"A", "B"}) {
			t.Fatalf("unexpected resources in state 1: %v", names)
		}
		typed, err := v.ResourcesInState(1, 2)
		if err != nil {
			return err
		}
		if names := resourceNames(typed); !equalStrings(names, []string{"B"}) {
			t.Fatalf("unexpected typed resources in state 1: %v", names)
		}
		return nil
	})
}

func missingEntitiesReportNotFound(t *testing.T, factory Factory) {
	store := factory(t, nil)
	checks := []func(domain.Transaction) error{
		func(tx domain.Transaction) error { return tx.DeleteResource(404) },
		func(tx domain.Transaction) error { return tx.DeleteResourceType(404) },
		func(tx domain.Transaction) error { return tx.DeleteScreen(404) },
		func(tx domain.Transaction) error {
			_, err := tx.UpdateResource(404, func(*domain.Resource) error { return nil })
			return err
		},
		func(tx domain.Transaction) error {
			_, err := tx.AppendStateEvent(domain.StateChangeEvent{StateID: 1})
			return err
		},
	}
	for i, check := range checks {
		if _, err := store.RunInTransaction(context.Background(), check); err == nil {
			t.Fatalf("check %d: expected error", i)
		}
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error { return tx.DeleteResource(404) })
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) || notFound.ID != 404 {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func resourceNames(resources []domain.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Name)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
