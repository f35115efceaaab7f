package core

import (
	"context"
	"fmt"
)

// ResolveLatestStates returns the state of the greatest event ID for each of
// resourceIDs. Resources without events are absent. Zero and repeated IDs are
// ignored, and an empty input never touches the store.
func (s *Service) ResolveLatestStates(ctx context.Context, resourceIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64)
	ids := distinctIDs(resourceIDs)
	if len(ids) == 0 {
		return out, nil
	}
	err := s.run(ctx, opResolveLatestStates, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v TransactionView) error {
			latest, err := latestStates(v, ids)
			if err != nil {
				return err
			}
			out = latest
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// latestStates is the single batched lookup shared by every operation that
// needs resolved states inside an already open session.
func latestStates(v TransactionView, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	latest, err := v.LatestStates(ids)
	if err != nil {
		return nil, fmt.Errorf("resolve latest states: %w", err)
	}
	for id, state := range latest {
		out[id] = state
	}
	return out, nil
}

func distinctIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
