package core

import (
	"context"
	"fmt"
)

// GetResourceByID returns the resource with id; a missing resource reports
// false without an error.
func (s *Service) GetResourceByID(ctx context.Context, id int64) (Resource, bool, error) {
	var (
		out   Resource
		found bool
	)
	err := s.run(ctx, opGetResource, func(ctx context.Context) (int64, error) {
		return id, s.store.View(ctx, func(v TransactionView) error {
			var err error
			out, found, err = v.FindResource(id)
			return err
		})
	})
	return out, found, err
}

// GetResourceType returns the resource type with id; a missing type reports
// false without an error.
func (s *Service) GetResourceType(ctx context.Context, id int64) (ResourceType, bool, error) {
	var (
		out   ResourceType
		found bool
	)
	err := s.run(ctx, opGetResourceType, func(ctx context.Context) (int64, error) {
		return id, s.store.View(ctx, func(v TransactionView) error {
			var err error
			out, found, err = v.FindResourceType(id)
			return err
		})
	})
	return out, found, err
}

// GetScreen returns the stored screen with id; a missing screen reports false.
func (s *Service) GetScreen(ctx context.Context, id int64) (Screen, bool, error) {
	var (
		out   Screen
		found bool
	)
	err := s.run(ctx, opGetScreen, func(ctx context.Context) (int64, error) {
		return id, s.store.View(ctx, func(v TransactionView) error {
			var err error
			out, found, err = v.FindScreen(id)
			return err
		})
	})
	return out, found, err
}

// GetResourcesByState lists resources of resourceTypeID (0 for every type)
// whose latest state is stateID, ordered by ID.
func (s *Service) GetResourcesByState(ctx context.Context, stateID, resourceTypeID int64) ([]Resource, error) {
	out := []Resource{}
	err := s.run(ctx, opGetResourcesByState, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v TransactionView) error {
			found, err := v.ResourcesInState(stateID, resourceTypeID)
			if err != nil {
				return fmt.Errorf("resources in state %d: %w", stateID, err)
			}
			out = append(out, found...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStateHistory returns the state events of a resource ordered by ID.
func (s *Service) ListStateHistory(ctx context.Context, resourceID int64) ([]StateChangeEvent, error) {
	out := []StateChangeEvent{}
	err := s.run(ctx, opListStateHistory, func(ctx context.Context) (int64, error) {
		return resourceID, s.store.View(ctx, func(v TransactionView) error {
			events, err := v.ListStateEvents(resourceID)
			if err != nil {
				return fmt.Errorf("list state events: %w", err)
			}
			out = append(out, events...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStates returns the state vocabulary ordered by ID.
func (s *Service) ListStates(ctx context.Context) ([]State, error) {
	out := []State{}
	err := s.run(ctx, opListStates, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v TransactionView) error {
			states, err := v.ListStates()
			out = append(out, states...)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func typeIDOf(t ResourceType) int64 { return t.ID }
func resourceIDOf(r Resource) int64 { return r.ID }
func screenIDOf(sc Screen) int64    { return sc.ID }
func stateIDOf(st State) int64      { return st.ID }
func sameID(id int64) int64         { return id }

// CreateResourceType persists a new resource type.
func (s *Service) CreateResourceType(ctx context.Context, t ResourceType) (ResourceType, Result, error) {
	return mutate(ctx, s, opCreateResourceType, typeIDOf, func(tx Transaction) (ResourceType, error) {
		return tx.CreateResourceType(t)
	})
}

// UpdateResourceType mutates a resource type.
func (s *Service) UpdateResourceType(ctx context.Context, id int64, mutator func(*ResourceType) error) (ResourceType, Result, error) {
	return mutate(ctx, s, opUpdateResourceType, func(ResourceType) int64 { return id }, func(tx Transaction) (ResourceType, error) {
		return tx.UpdateResourceType(id, mutator)
	})
}

// DeleteResourceType removes a resource type no resource references.
func (s *Service) DeleteResourceType(ctx context.Context, id int64) (Result, error) {
	_, res, err := mutate(ctx, s, opDeleteResourceType, sameID, func(tx Transaction) (int64, error) {
		return id, tx.DeleteResourceType(id)
	})
	return res, err
}

// CreateResource persists a new resource.
func (s *Service) CreateResource(ctx context.Context, r Resource) (Resource, Result, error) {
	return mutate(ctx, s, opCreateResource, resourceIDOf, func(tx Transaction) (Resource, error) {
		return tx.CreateResource(r)
	})
}

// UpdateResource mutates a resource.
func (s *Service) UpdateResource(ctx context.Context, id int64, mutator func(*Resource) error) (Resource, Result, error) {
	return mutate(ctx, s, opUpdateResource, func(Resource) int64 { return id }, func(tx Transaction) (Resource, error) {
		return tx.UpdateResource(id, mutator)
	})
}

// DeleteResource removes a resource without state history or screen slots.
func (s *Service) DeleteResource(ctx context.Context, id int64) (Result, error) {
	_, res, err := mutate(ctx, s, opDeleteResource, sameID, func(tx Transaction) (int64, error) {
		return id, tx.DeleteResource(id)
	})
	return res, err
}

// CreateScreen persists a screen with its slots.
func (s *Service) CreateScreen(ctx context.Context, sc Screen) (Screen, Result, error) {
	return mutate(ctx, s, opCreateScreen, screenIDOf, func(tx Transaction) (Screen, error) {
		return tx.CreateScreen(sc)
	})
}

// UpdateScreen mutates a screen and its slots.
func (s *Service) UpdateScreen(ctx context.Context, id int64, mutator func(*Screen) error) (Screen, Result, error) {
	return mutate(ctx, s, opUpdateScreen, func(Screen) int64 { return id }, func(tx Transaction) (Screen, error) {
		return tx.UpdateScreen(id, mutator)
	})
}

// DeleteScreen removes a screen and its slots.
func (s *Service) DeleteScreen(ctx context.Context, id int64) (Result, error) {
	_, res, err := mutate(ctx, s, opDeleteScreen, sameID, func(tx Transaction) (int64, error) {
		return id, tx.DeleteScreen(id)
	})
	return res, err
}

// CreateState adds a state vocabulary entry.
func (s *Service) CreateState(ctx context.Context, st State) (State, Result, error) {
	return mutate(ctx, s, opCreateState, stateIDOf, func(tx Transaction) (State, error) {
		return tx.CreateState(st)
	})
}
