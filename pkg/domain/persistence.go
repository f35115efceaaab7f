package domain

import (
	"context"
	"fmt"
)

// ResourceQuery selects resources by type and raw text. TypeID 0 selects every
// type; an empty Search matches every resource. Results are ordered by ID.
type ResourceQuery struct {
	ResourceTypeID int64
	Search         string
	Limit          int
}

// TransactionView exposes the read-only queries a persistence implementation
// must answer within a session.
type TransactionView interface {
	RuleView
	FindResourceType(id int64) (ResourceType, bool, error)
	FindScreen(id int64) (Screen, bool, error)
	ListStates() ([]State, error)
	// QueryResources matches CustomData as a raw substring or Name as a
	// case-insensitive substring of Search.
	QueryResources(q ResourceQuery) ([]Resource, error)
	// LatestStates returns the state of the greatest event ID per resource.
	// Resources without events are absent from the result.
	LatestStates(resourceIDs []int64) (map[int64]int64, error)
	LastStateEvent(resourceID int64) (StateChangeEvent, bool, error)
	ListStateEvents(resourceID int64) ([]StateChangeEvent, error)
	ListAllStateEvents() ([]StateChangeEvent, error)
	// ResourcesInState returns resources of the type (0 = all types) whose
	// latest state equals stateID.
	ResourcesInState(stateID, resourceTypeID int64) ([]Resource, error)
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. State events can only be appended.
type Transaction interface {
	TransactionView
	AppendStateEvent(StateChangeEvent) (StateChangeEvent, error)
	CreateResourceType(ResourceType) (ResourceType, error)
	UpdateResourceType(id int64, mutator func(*ResourceType) error) (ResourceType, error)
	DeleteResourceType(id int64) error
	CreateResource(Resource) (Resource, error)
	UpdateResource(id int64, mutator func(*Resource) error) (Resource, error)
	DeleteResource(id int64) error
	CreateScreen(Screen) (Screen, error)
	UpdateScreen(id int64, mutator func(*Screen) error) (Screen, error)
	DeleteScreen(id int64) error
	CreateState(State) (State, error)
}

// PersistentStore is the transactional event store consumed by the core.
// RunInTransaction opens a read-write session, View a read-only one; both
// release the session on every exit path.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}

// ErrNotFound is returned when a mutation references a missing entity.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}
