package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"resourcecore/pkg/domain"
)

// FindResources selects resources in three materialized stages:
//
//  1. the store query: type (or all types when resourceType is nil) and search
//     as a raw CustomData substring or case-insensitive Name substring, capped
//     at the search limit;
//  2. when resourceType is set, keep candidates with a visible field match or
//     a name match;
//  3. when stateFilter > 0, keep candidates whose latest state equals it.
//
// Stages 2 and 3 only narrow stage 1, so a qualifying resource beyond the cap
// is never returned. Results are ordered by ascending ID.
func (s *Service) FindResources(ctx context.Context, resourceType *ResourceType, search string, stateFilter int64) ([]Resource, error) {
	out := []Resource{}
	err := s.run(ctx, opFindResources, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v TransactionView) error {
			candidates, err := s.queryCandidates(v, resourceType, search)
			if err != nil {
				return err
			}
			if resourceType != nil {
				candidates = refineByFields(*resourceType, candidates, search)
			}
			if stateFilter > 0 {
				candidates, err = filterByState(v, candidates, stateFilter)
				if err != nil {
					return err
				}
			}
			out = candidates
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) queryCandidates(v TransactionView, resourceType *ResourceType, search string) ([]Resource, error) {
	q := domain.ResourceQuery{Search: search, Limit: s.opts.searchLimit}
	if resourceType != nil {
		q.ResourceTypeID = resourceType.ID
	}
	candidates, err := v.QueryResources(q)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	if candidates == nil {
		candidates = []Resource{}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > s.opts.searchLimit {
		candidates = candidates[:s.opts.searchLimit]
	}
	return candidates, nil
}

func refineByFields(resourceType ResourceType, candidates []Resource, search string) []Resource {
	kept := make([]Resource, 0, len(candidates))
	for _, r := range candidates {
		if resourceType.HasVisibleMatch(r, search) || nameContains(r.Name, search) {
			kept = append(kept, r)
		}
	}
	return kept
}

func filterByState(v TransactionView, candidates []Resource, stateID int64) ([]Resource, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	ids := make([]int64, len(candidates))
	for i, r := range candidates {
		ids[i] = r.ID
	}
	latest, err := latestStates(v, ids)
	if err != nil {
		return nil, err
	}
	kept := make([]Resource, 0, len(candidates))
	for _, r := range candidates {
		if state, ok := latest[r.ID]; ok && state == stateID {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func nameContains(name, search string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(search))
}
