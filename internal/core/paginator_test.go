package core

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"resourcecore/pkg/domain"
)

// sixSlotScreen holds resources 101..106 (A..F) at Order 0..5, stored out of order.
func sixSlotScreen(pageCount int) *Screen {
	return &Screen{
		ID:               1,
		Name:             "Floor",
		PageCount:        pageCount,
		ItemCountPerPage: 2,
		Slots: []ScreenSlot{
			{ID: 4, ResourceID: 104, Order: 3},
			{ID: 1, ResourceID: 101, Order: 0},
			{ID: 6, ResourceID: 106, Order: 5},
			{ID: 3, ResourceID: 103, Order: 2},
			{ID: 2, ResourceID: 102, Order: 1},
			{ID: 5, ResourceID: 105, Order: 4},
		},
	}
}

func TestComputePageResourceIDs(t *testing.T) {
	cases := []struct {
		name   string
		screen *Screen
		page   int
		want   []int64
	}{
		{name: "second page", screen: sixSlotScreen(3), page: 1, want: []int64{103, 104}},
		{name: "first page", screen: sixSlotScreen(3), page: 0, want: []int64{101, 102}},
		{name: "last page", screen: sixSlotScreen(3), page: 2, want: []int64{105, 106}},
		{name: "beyond range", screen: sixSlotScreen(3), page: 3, want: []int64{}},
		{name: "negative page", screen: sixSlotScreen(3), page: -1, want: []int64{}},
		{name: "offset wraps negative", screen: sixSlotScreen(3), page: math.MaxInt/2 + 1, want: []int64{}},
		{name: "offset wraps to zero", screen: sixSlotScreen(3), page: math.MaxInt/4 + 1, want: []int64{}},
		{name: "max page", screen: sixSlotScreen(3), page: math.MaxInt, want: []int64{}},
		{name: "single page ignores page number", screen: sixSlotScreen(1), page: 7, want: []int64{101, 102, 103, 104, 105, 106}},
		{name: "zero page count is single page", screen: sixSlotScreen(0), page: 2, want: []int64{101, 102, 103, 104, 105, 106}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputePageResourceIDs(tc.screen, tc.page)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if got := ComputePageResourceIDs(nil, 0); got != nil {
		t.Fatalf("expected nil for a missing screen, got %v", got)
	}
}

func TestComputePageResourceIDsHugePageSize(t *testing.T) {
	screen := sixSlotScreen(2)
	screen.ItemCountPerPage = math.MaxInt
	if got := ComputePageResourceIDs(screen, 0); len(got) != 6 {
		t.Fatalf("expected every slot on page 0, got %v", got)
	}
	if got := ComputePageResourceIDs(screen, 1); len(got) != 0 {
		t.Fatalf("expected empty page 1, got %v", got)
	}
}

func TestComputePageResourceIDsKeepsEqualOrdersStable(t *testing.T) {
	screen := &Screen{PageCount: 2, ItemCountPerPage: 2, Slots: []ScreenSlot{
		{ResourceID: 9, Order: 1}, {ResourceID: 7, Order: 0}, {ResourceID: 8, Order: 1},
	}}
	if got := ComputePageResourceIDs(screen, 0); !reflect.DeepEqual(got, []int64{7, 9}) {
		t.Fatalf("expected stable order, got %v", got)
	}
	if got := ComputePageResourceIDs(screen, 1); !reflect.DeepEqual(got, []int64{8}) {
		t.Fatalf("expected partial last page, got %v", got)
	}
}

func TestRefreshScreenStatesUpdatesPageSlotsOnly(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	for _, step := range []struct{ id, state int64 }{{103, 2}, {104, 1}, {104, 3}, {101, 5}} {
		if err := svc.SetState(ctx, step.id, step.state); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}
	screen := sixSlotScreen(3)
	for i := range screen.Slots {
		screen.Slots[i].ResourceStateID = 9
	}
	if err := svc.RefreshScreenStates(ctx, screen, 1); err != nil {
		t.Fatalf("RefreshScreenStates: %v", err)
	}
	got := map[int64]int64{}
	for _, slot := range screen.Slots {
		got[slot.ResourceID] = slot.ResourceStateID
	}
	want := map[int64]int64{101: 9, 102: 9, 103: 2, 104: 3, 105: 9, 106: 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRefreshScreenStatesKeepsUnresolvedCache(t *testing.T) {
	svc := NewInMemoryService(nil)
	screen := &Screen{PageCount: 1, Slots: []ScreenSlot{{ResourceID: 50, ResourceStateID: 4}}}
	if err := svc.RefreshScreenStates(context.Background(), screen, 0); err != nil {
		t.Fatalf("RefreshScreenStates: %v", err)
	}
	if screen.Slots[0].ResourceStateID != 4 {
		t.Fatalf("expected cached state to survive, got %d", screen.Slots[0].ResourceStateID)
	}
	if err := svc.RefreshScreenStates(context.Background(), nil, 0); err != nil {
		t.Fatalf("nil screen: %v", err)
	}
}

func TestRefreshScreenStatesUpdatesDuplicateSlots(t *testing.T) {
	log := &captureLogger{}
	svc := NewInMemoryService(nil, WithLogger(log))
	ctx := context.Background()
	if err := svc.SetState(ctx, 7, 2); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	screen := &Screen{ID: 3, PageCount: 1, Slots: []ScreenSlot{
		{ID: 1, ResourceID: 7, Order: 0},
		{ID: 2, ResourceID: 8, Order: 1},
		{ID: 3, ResourceID: 7, Order: 2},
	}}
	if err := svc.RefreshScreenStates(ctx, screen, 0); err != nil {
		t.Fatalf("RefreshScreenStates: %v", err)
	}
	if screen.Slots[0].ResourceStateID != 2 || screen.Slots[2].ResourceStateID != 2 {
		t.Fatalf("expected both slots of resource 7 updated, got %+v", screen.Slots)
	}
	if n := log.count("w:resource occupies several screen slots"); n != 1 {
		t.Fatalf("expected one duplicate warning, got %d: %v", n, log.calls)
	}
}

func TestRefreshScreenStatesUsesOneBatchedRead(t *testing.T) {
	store := &countingStore{inner: NewInMemoryService(nil).Store()}
	svc := NewService(store)
	if err := svc.RefreshScreenStates(context.Background(), sixSlotScreen(1), 0); err != nil {
		t.Fatalf("RefreshScreenStates: %v", err)
	}
	if store.views != 1 || store.writes != 0 {
		t.Fatalf("expected a single read session, views=%d writes=%d", store.views, store.writes)
	}
	store.failView = errInjected
	if err := svc.RefreshScreenStates(context.Background(), sixSlotScreen(1), 0); !errors.Is(err, errInjected) {
		t.Fatalf("expected store failure, got %v", err)
	}
}

func TestRefreshStoredScreenPersistsCache(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newService func(...ServiceOption) *Service) {
		svc := newService()
		ctx := context.Background()
		rt := mustCreateType(t, svc, ResourceType{Name: "Table"})
		var slots []ScreenSlot
		for i := 0; i < 4; i++ {
			r := mustCreateResource(t, svc, Resource{ResourceTypeID: rt.ID, Name: string(rune('A' + i))})
			slots = append(slots, ScreenSlot{ResourceID: r.ID, Order: i})
			if err := svc.SetState(ctx, r.ID, int64(i+1)); err != nil {
				t.Fatalf("SetState: %v", err)
			}
		}
		screen, _, err := svc.CreateScreen(ctx, Screen{Name: "Main", PageCount: 2, ItemCountPerPage: 2, Slots: slots})
		if err != nil {
			t.Fatalf("CreateScreen: %v", err)
		}

		updated, page, err := svc.RefreshStoredScreen(ctx, screen.ID, 1)
		if err != nil {
			t.Fatalf("RefreshStoredScreen: %v", err)
		}
		if len(page) != 2 || page[0].ResourceStateID != 3 || page[1].ResourceStateID != 4 {
			t.Fatalf("unexpected page slots %+v", page)
		}
		stored, ok, err := svc.GetScreen(ctx, screen.ID)
		if err != nil || !ok {
			t.Fatalf("GetScreen: %v %v", ok, err)
		}
		states := map[int64]int64{}
		for _, slot := range stored.Slots {
			states[slot.ResourceID] = slot.ResourceStateID
		}
		if states[slots[0].ResourceID] != 0 || states[slots[3].ResourceID] != 4 || len(updated.Slots) != 4 {
			t.Fatalf("expected only page 1 cached, got %v", states)
		}

		if _, _, err := svc.RefreshStoredScreen(ctx, 999, 0); err == nil || !strings.Contains(err.Error(), "not found") {
			t.Fatalf("expected not found, got %v", err)
		}
		var nf domain.ErrNotFound
		if _, _, err := svc.RefreshStoredScreen(ctx, 999, 0); !errors.As(err, &nf) {
			t.Fatalf("expected ErrNotFound, got %T", err)
		}
	})
}
