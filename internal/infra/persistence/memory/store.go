// Package memory provides an in-memory implementation of the resource event
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"resourcecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Resource aliases domain.Resource for in-memory persistence operations.
	Resource = domain.Resource
	// ResourceType aliases domain.ResourceType.
	ResourceType = domain.ResourceType
	// State aliases domain.State.
	State = domain.State
	// Screen aliases domain.Screen.
	Screen = domain.Screen
	// StateChangeEvent aliases domain.StateChangeEvent.
	StateChangeEvent = domain.StateChangeEvent
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

type sequences struct {
	resource     int64
	resourceType int64
	state        int64
	screen       int64
	slot         int64
	event        int64
}

type memoryState struct {
	resources map[int64]Resource
	types     map[int64]ResourceType
	states    map[int64]State
	screens   map[int64]Screen
	// events is append-only; replayed events may arrive out of ID order.
	events []StateChangeEvent
	seq    sequences
}

func newMemoryState() memoryState {
	return memoryState{
		resources: make(map[int64]Resource),
		types:     make(map[int64]ResourceType),
		states:    make(map[int64]State),
		screens:   make(map[int64]Screen),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.resources {
		cloned.resources[k] = v
	}
	for k, v := range s.types {
		cloned.types[k] = v.Clone()
	}
	for k, v := range s.states {
		cloned.states[k] = v
	}
	for k, v := range s.screens {
		cloned.screens[k] = v.Clone()
	}
	// Capping capacity forces a transaction's appends onto a fresh array, so the
	// committed log is never written through a shared backing store.
	cloned.events = s.events[:len(s.events):len(s.events)]
	cloned.seq = s.seq
	return cloned
}

// Store provides an in-memory transactional event store.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn and every blocking rule pass.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.view = view{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	res, err := s.engine.Evaluate(ctx, tx.view, tx.changes)
	if err != nil {
		return Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}

	s.state = tx.state
	return res, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(view{state: &snapshot})
}

type view struct {
	state *memoryState
}

func (v view) FindResource(id int64) (Resource, bool, error) {
	r, ok := v.state.resources[id]
	return r, ok, nil
}

func (v view) FindResourceType(id int64) (ResourceType, bool, error) {
	t, ok := v.state.types[id]
	if !ok {
		return ResourceType{}, false, nil
	}
	return t.Clone(), true, nil
}

func (v view) FindScreen(id int64) (Screen, bool, error) {
	sc, ok := v.state.screens[id]
	if !ok {
		return Screen{}, false, nil
	}
	return sc.Clone(), true, nil
}

func (v view) ListResources() ([]Resource, error) {
	out := make([]Resource, 0, len(v.state.resources))
	for _, r := range v.state.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListResourceTypes() ([]ResourceType, error) {
	out := make([]ResourceType, 0, len(v.state.types))
	for _, t := range v.state.types {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListScreens() ([]Screen, error) {
	out := make([]Screen, 0, len(v.state.screens))
	for _, sc := range v.state.screens {
		out = append(out, sc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListStates() ([]State, error) {
	out := make([]State, 0, len(v.state.states))
	for _, st := range v.state.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) QueryResources(q domain.ResourceQuery) ([]Resource, error) {
	all, _ := v.ListResources()
	lowered := strings.ToLower(q.Search)
	out := make([]Resource, 0)
	for _, r := range all {
		if q.ResourceTypeID != 0 && r.ResourceTypeID != q.ResourceTypeID {
			continue
		}
		if q.Search != "" && !strings.Contains(r.CustomData, q.Search) && !strings.Contains(strings.ToLower(r.Name), lowered) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (v view) LatestStates(resourceIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return out, nil
	}
	wanted := make(map[int64]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		wanted[id] = struct{}{}
	}
	latest := make(map[int64]int64, len(wanted))
	for _, e := range v.state.events {
		if _, ok := wanted[e.ResourceID]; !ok {
			continue
		}
		if e.ID > latest[e.ResourceID] {
			latest[e.ResourceID] = e.ID
			out[e.ResourceID] = e.StateID
		}
	}
	return out, nil
}

func (v view) LastStateEvent(resourceID int64) (StateChangeEvent, bool, error) {
	var last StateChangeEvent
	found := false
	for _, e := range v.state.events {
		if e.ResourceID == resourceID && (!found || e.ID > last.ID) {
			last = e
			found = true
		}
	}
	return last, found, nil
}

func (v view) ListStateEvents(resourceID int64) ([]StateChangeEvent, error) {
	out := make([]StateChangeEvent, 0)
	for _, e := range v.state.events {
		if e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListAllStateEvents() ([]StateChangeEvent, error) {
	out := append([]StateChangeEvent(nil), v.state.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) CountStateEvents(resourceID int64) (int, error) {
	n := 0
	for _, e := range v.state.events {
		if e.ResourceID == resourceID {
			n++
		}
	}
	return n, nil
}

func (v view) ResourcesInState(stateID, resourceTypeID int64) ([]Resource, error) {
	all, _ := v.ListResources()
	ids := make([]int64, 0, len(all))
	for _, r := range all {
		if resourceTypeID == 0 || r.ResourceTypeID == resourceTypeID {
			ids = append(ids, r.ID)
		}
	}
	latest, _ := v.LatestStates(ids)
	out := make([]Resource, 0)
	for _, r := range all {
		if st, ok := latest[r.ID]; ok && st == stateID {
			out = append(out, r)
		}
	}
	return out, nil
}

type transaction struct {
	view
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func nextID(seq *int64, requested int64) int64 {
	if requested == 0 {
		*seq++
		return *seq
	}
	if requested > *seq {
		*seq = requested
	}
	return requested
}

// AppendStateEvent appends e to the log. A zero ID receives the next log ID;
// an explicit ID (replaying an exported log) must not be taken yet.
func (tx *transaction) AppendStateEvent(e StateChangeEvent) (StateChangeEvent, error) {
	if e.ResourceID == 0 {
		return StateChangeEvent{}, errors.New("state event requires a resource id")
	}
	if e.ID != 0 {
		for _, existing := range tx.state.events {
			if existing.ID == e.ID {
				return StateChangeEvent{}, fmt.Errorf("state event %d already exists", e.ID)
			}
		}
	}
	e.ID = nextID(&tx.state.seq.event, e.ID)
	if e.Date.IsZero() {
		e.Date = tx.now
	}
	tx.state.events = append(tx.state.events, e)
	tx.recordChange(Change{Entity: domain.EntityStateEvent, Action: domain.ActionAppend, After: e})
	return e, nil
}

// CreateResourceType stores a new resource type.
func (tx *transaction) CreateResourceType(t ResourceType) (ResourceType, error) {
	if err := t.Validate(); err != nil {
		return ResourceType{}, err
	}
	if _, exists := tx.state.types[t.ID]; exists && t.ID != 0 {
		return ResourceType{}, fmt.Errorf("resource type %d already exists", t.ID)
	}
	t.ID = nextID(&tx.state.seq.resourceType, t.ID)
	tx.state.types[t.ID] = t.Clone()
	tx.recordChange(Change{Entity: domain.EntityResourceType, Action: domain.ActionCreate, After: t.Clone()})
	return t.Clone(), nil
}

// UpdateResourceType mutates an existing resource type.
func (tx *transaction) UpdateResourceType(id int64, mutator func(*ResourceType) error) (ResourceType, error) {
	current, ok := tx.state.types[id]
	if !ok {
		return ResourceType{}, domain.ErrNotFound{Entity: domain.EntityResourceType, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return ResourceType{}, err
	}
	current.ID = id
	if err := current.Validate(); err != nil {
		return ResourceType{}, err
	}
	tx.state.types[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityResourceType, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteResourceType removes a resource type.
func (tx *transaction) DeleteResourceType(id int64) error {
	current, ok := tx.state.types[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityResourceType, ID: id}
	}
	delete(tx.state.types, id)
	tx.recordChange(Change{Entity: domain.EntityResourceType, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateResource stores a new resource.
func (tx *transaction) CreateResource(r Resource) (Resource, error) {
	if _, exists := tx.state.resources[r.ID]; exists && r.ID != 0 {
		return Resource{}, fmt.Errorf("resource %d already exists", r.ID)
	}
	r.ID = nextID(&tx.state.seq.resource, r.ID)
	tx.state.resources[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityResource, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateResource mutates an existing resource.
func (tx *transaction) UpdateResource(id int64, mutator func(*Resource) error) (Resource, error) {
	current, ok := tx.state.resources[id]
	if !ok {
		return Resource{}, domain.ErrNotFound{Entity: domain.EntityResource, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Resource{}, err
	}
	current.ID = id
	tx.state.resources[id] = current
	tx.recordChange(Change{Entity: domain.EntityResource, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteResource removes a resource record. Its state events are retained.
func (tx *transaction) DeleteResource(id int64) error {
	current, ok := tx.state.resources[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityResource, ID: id}
	}
	delete(tx.state.resources, id)
	tx.recordChange(Change{Entity: domain.EntityResource, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) assignSlotIDs(sc *Screen) {
	for i := range sc.Slots {
		sc.Slots[i].ID = nextID(&tx.state.seq.slot, sc.Slots[i].ID)
	}
}

// CreateScreen stores a new screen together with its slots.
func (tx *transaction) CreateScreen(sc Screen) (Screen, error) {
	if _, exists := tx.state.screens[sc.ID]; exists && sc.ID != 0 {
		return Screen{}, fmt.Errorf("screen %d already exists", sc.ID)
	}
	sc = sc.Clone()
	sc.ID = nextID(&tx.state.seq.screen, sc.ID)
	tx.assignSlotIDs(&sc)
	tx.state.screens[sc.ID] = sc
	tx.recordChange(Change{Entity: domain.EntityScreen, Action: domain.ActionCreate, After: sc.Clone()})
	return sc.Clone(), nil
}

// UpdateScreen mutates an existing screen; new slots receive fresh IDs.
func (tx *transaction) UpdateScreen(id int64, mutator func(*Screen) error) (Screen, error) {
	current, ok := tx.state.screens[id]
	if !ok {
		return Screen{}, domain.ErrNotFound{Entity: domain.EntityScreen, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Screen{}, err
	}
	current.ID = id
	tx.assignSlotIDs(&current)
	tx.state.screens[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityScreen, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteScreen removes a screen and its slots.
func (tx *transaction) DeleteScreen(id int64) error {
	current, ok := tx.state.screens[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityScreen, ID: id}
	}
	delete(tx.state.screens, id)
	tx.recordChange(Change{Entity: domain.EntityScreen, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateState stores a state vocabulary entry.
func (tx *transaction) CreateState(st State) (State, error) {
	if _, exists := tx.state.states[st.ID]; exists && st.ID != 0 {
		return State{}, fmt.Errorf("state %d already exists", st.ID)
	}
	st.ID = nextID(&tx.state.seq.state, st.ID)
	tx.state.states[st.ID] = st
	tx.recordChange(Change{Entity: domain.EntityState, Action: domain.ActionCreate, After: st})
	return st, nil
}
