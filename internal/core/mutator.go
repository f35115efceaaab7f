package core

import (
	"context"
	"fmt"
)

// SetState appends a state event for resourceID unless its latest state
// already equals stateID. A resource without events is in state 0. A zero
// resourceID is ignored.
//
// Two concurrent calls may both append; the greater event ID wins.
func (s *Service) SetState(ctx context.Context, resourceID, stateID int64) error {
	if resourceID == 0 {
		return nil
	}
	return s.run(ctx, opSetState, func(ctx context.Context) (int64, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			last, ok, err := tx.LastStateEvent(resourceID)
			if err != nil {
				return fmt.Errorf("load last state event: %w", err)
			}
			var current int64
			if ok {
				current = last.StateID
			}
			if current == stateID {
				s.opts.logger.Debug("state unchanged", "resource_id", resourceID, "state_id", stateID)
				return nil
			}
			event, err := tx.AppendStateEvent(StateChangeEvent{
				ResourceID: resourceID,
				StateID:    stateID,
				Date:       s.opts.clock.Now(),
			})
			if err != nil {
				return fmt.Errorf("append state event: %w", err)
			}
			s.opts.logger.Info("state changed", "resource_id", resourceID, "from", current, "to", stateID, "event_id", event.ID)
			return nil
		})
		return resourceID, err
	})
}
