package core

import "resourcecore/pkg/domain"

// NewDefaultRulesEngine registers the referential integrity and naming guards.
// The service itself works with an empty engine; callers opt in at startup.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(ResourceDeleteGuardRule())
	engine.Register(ResourceTypeDeleteGuardRule())
	engine.Register(ScreenSlotIntegrityRule())
	engine.Register(UniqueNamesRule())
	engine.Register(ScreenSlotUniquenessRule())
	return engine
}

func blockViolation(rule string, entity domain.EntityType, id int64, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}

// changedScreens returns the screens created or updated by changes.
func changedScreens(changes []domain.Change) []domain.Screen {
	var out []domain.Screen
	for _, change := range changes {
		if change.Entity != domain.EntityScreen || change.Action == domain.ActionDelete {
			continue
		}
		if sc, ok := change.After.(domain.Screen); ok {
			out = append(out, sc)
		}
	}
	return out
}
