package core

import (
	"context"
	"fmt"

	"resourcecore/pkg/domain"
)

// ResourceDeleteGuardRule blocks deleting a resource that still has state
// events or occupies a screen slot.
func ResourceDeleteGuardRule() domain.Rule {
	return resourceDeleteGuard{}
}

type resourceDeleteGuard struct{}

func (resourceDeleteGuard) Name() string { return "resource_delete_guard" }

func (g resourceDeleteGuard) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var screens []domain.Screen
	screensLoaded := false
	for _, change := range changes {
		if change.Entity != domain.EntityResource || change.Action != domain.ActionDelete {
			continue
		}
		deleted, ok := change.Before.(domain.Resource)
		if !ok {
			continue
		}
		events, err := view.CountStateEvents(deleted.ID)
		if err != nil {
			return domain.Result{}, err
		}
		if events > 0 {
			res.Violations = append(res.Violations, blockViolation(g.Name(), domain.EntityResource, deleted.ID,
				fmt.Sprintf("resource %d has %d state events", deleted.ID, events)))
		}
		if !screensLoaded {
			if screens, err = view.ListScreens(); err != nil {
				return domain.Result{}, err
			}
			screensLoaded = true
		}
		for _, sc := range screens {
			for _, slot := range sc.Slots {
				if slot.ResourceID == deleted.ID {
					res.Violations = append(res.Violations, blockViolation(g.Name(), domain.EntityResource, deleted.ID,
						fmt.Sprintf("resource %d occupies a slot on screen %d", deleted.ID, sc.ID)))
					break
				}
			}
		}
	}
	return res, nil
}

// ResourceTypeDeleteGuardRule blocks deleting a resource type still used by a resource.
func ResourceTypeDeleteGuardRule() domain.Rule {
	return resourceTypeDeleteGuard{}
}

type resourceTypeDeleteGuard struct{}

func (resourceTypeDeleteGuard) Name() string { return "resource_type_delete_guard" }

func (g resourceTypeDeleteGuard) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	deleted := map[int64]struct{}{}
	for _, change := range changes {
		if change.Entity != domain.EntityResourceType || change.Action != domain.ActionDelete {
			continue
		}
		if t, ok := change.Before.(domain.ResourceType); ok {
			deleted[t.ID] = struct{}{}
		}
	}
	if len(deleted) == 0 {
		return res, nil
	}
	resources, err := view.ListResources()
	if err != nil {
		return domain.Result{}, err
	}
	users := map[int64]int{}
	for _, r := range resources {
		if _, ok := deleted[r.ResourceTypeID]; ok {
			users[r.ResourceTypeID]++
		}
	}
	for id, n := range users {
		res.Violations = append(res.Violations, blockViolation(g.Name(), domain.EntityResourceType, id,
			fmt.Sprintf("resource type %d is used by %d resources", id, n)))
	}
	return res, nil
}
