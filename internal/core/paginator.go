package core

import (
	"context"
	"fmt"
	"sort"

	"resourcecore/pkg/domain"
)

// PageSlots returns the slots shown on zero-based page pageNo, ordered by
// Order. A screen with PageCount <= 1 shows every slot regardless of pageNo;
// otherwise an out of range page is empty.
func PageSlots(screen *Screen, pageNo int) []ScreenSlot {
	if screen == nil {
		return nil
	}
	slots := append([]ScreenSlot(nil), screen.Slots...)
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Order < slots[j].Order })
	if screen.PageCount <= 1 {
		return slots
	}
	per := screen.ItemCountPerPage
	if pageNo < 0 || per <= 0 {
		return []ScreenSlot{}
	}
	// Compare page numbers rather than offsets so pageNo*per cannot overflow.
	if len(slots) == 0 || pageNo > (len(slots)-1)/per {
		return []ScreenSlot{}
	}
	start := pageNo * per
	end := len(slots)
	if per < end-start {
		end = start + per
	}
	return slots[start:end]
}

// ComputePageResourceIDs projects PageSlots onto resource IDs.
func ComputePageResourceIDs(screen *Screen, pageNo int) []int64 {
	if screen == nil {
		return nil
	}
	slots := PageSlots(screen, pageNo)
	ids := make([]int64, len(slots))
	for i, slot := range slots {
		ids[i] = slot.ResourceID
	}
	return ids
}

// RefreshScreenStates resolves the page's resources in one batched lookup and
// writes the result into ResourceStateID of every slot holding one of them.
// Slots whose resource has no events keep their cached value. When several
// slots hold the same resource they all receive its state.
func (s *Service) RefreshScreenStates(ctx context.Context, screen *Screen, pageNo int) error {
	if screen == nil {
		return nil
	}
	ids := distinctIDs(ComputePageResourceIDs(screen, pageNo))
	if len(ids) == 0 {
		return nil
	}
	return s.run(ctx, opRefreshScreenStates, func(ctx context.Context) (int64, error) {
		return screen.ID, s.store.View(ctx, func(v TransactionView) error {
			latest, err := latestStates(v, ids)
			if err != nil {
				return err
			}
			s.applyStates(screen, ids, latest)
			return nil
		})
	})
}

// RefreshStoredScreen loads a screen, refreshes the cached states of pageNo
// and persists them. It returns the updated screen and the page's slots.
func (s *Service) RefreshStoredScreen(ctx context.Context, screenID int64, pageNo int) (Screen, []ScreenSlot, error) {
	var screen Screen
	err := s.run(ctx, opRefreshStoredScreen, func(ctx context.Context) (int64, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			stored, ok, err := tx.FindScreen(screenID)
			if err != nil {
				return fmt.Errorf("load screen: %w", err)
			}
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityScreen, ID: screenID}
			}
			ids := distinctIDs(ComputePageResourceIDs(&stored, pageNo))
			latest, err := latestStates(tx, ids)
			if err != nil {
				return err
			}
			if s.applyStates(&stored, ids, latest) == 0 {
				screen = stored
				return nil
			}
			screen, err = tx.UpdateScreen(screenID, func(sc *Screen) error {
				sc.Slots = stored.Slots
				return nil
			})
			return err
		})
		return screenID, err
	})
	if err != nil {
		return Screen{}, nil, err
	}
	return screen, PageSlots(&screen, pageNo), nil
}

// applyStates writes resolved states into the matching slots and reports how
// many slots changed.
func (s *Service) applyStates(screen *Screen, pageIDs []int64, latest map[int64]int64) int {
	onPage := make(map[int64]struct{}, len(pageIDs))
	for _, id := range pageIDs {
		onPage[id] = struct{}{}
	}
	holders := make(map[int64]int, len(pageIDs))
	changed := 0
	for i := range screen.Slots {
		slot := &screen.Slots[i]
		if _, ok := onPage[slot.ResourceID]; !ok {
			continue
		}
		holders[slot.ResourceID]++
		state, ok := latest[slot.ResourceID]
		if !ok {
			continue
		}
		if slot.ResourceStateID != state {
			slot.ResourceStateID = state
			changed++
		}
	}
	for _, id := range pageIDs {
		if holders[id] > 1 {
			s.opts.logger.Warn("resource occupies several screen slots", "screen_id", screen.ID, "resource_id", id, "slots", holders[id])
		}
	}
	return changed
}
