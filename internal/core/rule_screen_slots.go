package core

import (
	"context"
	"fmt"

	"resourcecore/pkg/domain"
)

// ScreenSlotIntegrityRule requires every slot of a saved screen to reference
// an existing resource.
func ScreenSlotIntegrityRule() domain.Rule {
	return screenSlotIntegrity{}
}

type screenSlotIntegrity struct{}

func (screenSlotIntegrity) Name() string { return "screen_slot_integrity" }

func (r screenSlotIntegrity) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, sc := range changedScreens(changes) {
		for _, slot := range sc.Slots {
			if slot.ResourceID == 0 {
				res.Violations = append(res.Violations, blockViolation(r.Name(), domain.EntityScreen, sc.ID,
					fmt.Sprintf("screen %d slot %d has no resource", sc.ID, slot.ID)))
				continue
			}
			_, ok, err := view.FindResource(slot.ResourceID)
			if err != nil {
				return domain.Result{}, err
			}
			if !ok {
				res.Violations = append(res.Violations, blockViolation(r.Name(), domain.EntityScreen, sc.ID,
					fmt.Sprintf("screen %d references missing resource %d", sc.ID, slot.ResourceID)))
			}
		}
	}
	return res, nil
}

// ScreenSlotUniquenessRule warns when one resource occupies several slots of a
// screen. The commit proceeds; page refresh updates every such slot.
func ScreenSlotUniquenessRule() domain.Rule {
	return screenSlotUniqueness{}
}

type screenSlotUniqueness struct{}

func (screenSlotUniqueness) Name() string { return "screen_slot_uniqueness" }

func (r screenSlotUniqueness) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, sc := range changedScreens(changes) {
		counts := make(map[int64]int, len(sc.Slots))
		var order []int64
		for _, slot := range sc.Slots {
			if counts[slot.ResourceID] == 0 {
				order = append(order, slot.ResourceID)
			}
			counts[slot.ResourceID]++
		}
		for _, id := range order {
			if counts[id] < 2 {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("resource %d occupies %d slots on screen %d", id, counts[id], sc.ID),
				Entity:   domain.EntityScreen,
				EntityID: sc.ID,
			})
		}
	}
	return res, nil
}
