package sqlstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resourcecore/pkg/domain"
)

type transaction struct {
	view
	changes []domain.Change
	now     time.Time
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func encodeFields(fields []domain.CustomField) (string, error) {
	if len(fields) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFields(raw string) ([]domain.CustomField, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var fields []domain.CustomField
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// insert runs an INSERT ... RETURNING id. When id is non-zero it is written
// explicitly and the table sequence is resynchronized.
func (tx *transaction) insert(table string, id int64, columns string, args ...any) (int64, error) {
	if id != 0 {
		query := "INSERT INTO " + table + "(id, " + columns + ") VALUES(" + placeholders(len(args)+1) + ")"
		if _, err := tx.exec(query, append([]any{id}, args...)...); err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		if tx.d.SyncSequence != nil {
			if _, err := tx.exec(tx.d.SyncSequence(table)); err != nil {
				return 0, fmt.Errorf("sync %s sequence: %w", table, err)
			}
		}
		return id, nil
	}
	query := "INSERT INTO " + table + "(" + columns + ") VALUES(" + placeholders(len(args)) + ") RETURNING id"
	var newID int64
	if err := tx.queryRow(query, args...).Scan(&newID); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return newID, nil
}

// AppendStateEvent writes e to the log. The database assigns the ID unless e
// carries one, as when replaying an exported log.
func (tx *transaction) AppendStateEvent(e domain.StateChangeEvent) (domain.StateChangeEvent, error) {
	if e.ResourceID == 0 {
		return domain.StateChangeEvent{}, errors.New("state event requires a resource id")
	}
	if e.Date.IsZero() {
		e.Date = tx.now
	}
	id, err := tx.insert("resource_state_values", e.ID, "resource_id, state_id, date", e.ResourceID, e.StateID, e.Date.UnixNano())
	if err != nil {
		return domain.StateChangeEvent{}, err
	}
	e.ID = id
	e.Date = e.Date.UTC()
	tx.recordChange(domain.Change{Entity: domain.EntityStateEvent, Action: domain.ActionAppend, After: e})
	return e, nil
}

// CreateResourceType stores a new resource type.
func (tx *transaction) CreateResourceType(t domain.ResourceType) (domain.ResourceType, error) {
	if err := t.Validate(); err != nil {
		return domain.ResourceType{}, err
	}
	fields, err := encodeFields(t.Fields)
	if err != nil {
		return domain.ResourceType{}, err
	}
	if t.ID, err = tx.insert("resource_types", t.ID, "name, entity_name, fields", t.Name, t.EntityName, fields); err != nil {
		return domain.ResourceType{}, err
	}
	tx.recordChange(domain.Change{Entity: domain.EntityResourceType, Action: domain.ActionCreate, After: t.Clone()})
	return t, nil
}

// UpdateResourceType mutates an existing resource type.
func (tx *transaction) UpdateResourceType(id int64, mutator func(*domain.ResourceType) error) (domain.ResourceType, error) {
	current, ok, err := tx.FindResourceType(id)
	if err != nil {
		return domain.ResourceType{}, err
	}
	if !ok {
		return domain.ResourceType{}, domain.ErrNotFound{Entity: domain.EntityResourceType, ID: id}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return domain.ResourceType{}, err
	}
	current.ID = id
	if err := current.Validate(); err != nil {
		return domain.ResourceType{}, err
	}
	fields, err := encodeFields(current.Fields)
	if err != nil {
		return domain.ResourceType{}, err
	}
	if _, err := tx.exec("UPDATE resource_types SET name = ?, entity_name = ?, fields = ? WHERE id = ?", current.Name, current.EntityName, fields, id); err != nil {
		return domain.ResourceType{}, fmt.Errorf("update resource type: %w", err)
	}
	tx.recordChange(domain.Change{Entity: domain.EntityResourceType, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current, nil
}

// DeleteResourceType removes a resource type.
func (tx *transaction) DeleteResourceType(id int64) error {
	current, ok, err := tx.FindResourceType(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityResourceType, ID: id}
	}
	if _, err := tx.exec("DELETE FROM resource_types WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete resource type: %w", err)
	}
	tx.recordChange(domain.Change{Entity: domain.EntityResourceType, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateResource stores a new resource.
func (tx *transaction) CreateResource(r domain.Resource) (domain.Resource, error) {
	var err error
	if r.ID, err = tx.insert("resources", r.ID, "resource_type_id, name, custom_data", r.ResourceTypeID, r.Name, r.CustomData); err != nil {
		return domain.Resource{}, err
	}
	tx.recordChange(domain.Change{Entity: domain.EntityResource, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateResource mutates an existing resource.
func (tx *transaction) UpdateResource(id int64, mutator func(*domain.Resource) error) (domain.Resource, error) {
	current, ok, err := tx.FindResource(id)
	if err != nil {
		return domain.Resource{}, err
	}
	if !ok {
		return domain.Resource{}, domain.ErrNotFound{Entity: domain.EntityResource, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Resource{}, err
	}
	current.ID = id
	if _, err := tx.exec("UPDATE resources SET resource_type_id = ?, name = ?, custom_data = ? WHERE id = ?", current.ResourceTypeID, current.Name, current.CustomData, id); err != nil {
		return domain.Resource{}, fmt.Errorf("update resource: %w", err)
	}
	tx.recordChange(domain.Change{Entity: domain.EntityResource, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteResource removes a resource record. Its state events are retained.
func (tx *transaction) DeleteResource(id int64) error {
	current, ok, err := tx.FindResource(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityResource, ID: id}
	}
	if _, err := tx.exec("DELETE FROM resources WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	tx.recordChange(domain.Change{Entity: domain.EntityResource, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) insertSlot(screenID int64, slot domain.ScreenSlot) (int64, error) {
	return tx.insert("resource_screen_items", slot.ID, "screen_id, resource_id, sort_order, resource_state_id",
		screenID, slot.ResourceID, slot.Order, slot.ResourceStateID)
}

// CreateScreen stores a new screen together with its slots.
func (tx *transaction) CreateScreen(sc domain.Screen) (domain.Screen, error) {
	sc = sc.Clone()
	var err error
	if sc.ID, err = tx.insert("resource_screens", sc.ID, "name, page_count, item_count_per_page", sc.Name, sc.PageCount, sc.ItemCountPerPage); err != nil {
		return domain.Screen{}, err
	}
	for i := range sc.Slots {
		if sc.Slots[i].ID, err = tx.insertSlot(sc.ID, sc.Slots[i]); err != nil {
			return domain.Screen{}, err
		}
	}
	tx.recordChange(domain.Change{Entity: domain.EntityScreen, Action: domain.ActionCreate, After: sc.Clone()})
	return sc, nil
}

// UpdateScreen mutates an existing screen. Slots keeping their ID are updated
// in place, slots without an ID are inserted and missing slots are removed.
func (tx *transaction) UpdateScreen(id int64, mutator func(*domain.Screen) error) (domain.Screen, error) {
	current, ok, err := tx.FindScreen(id)
	if err != nil {
		return domain.Screen{}, err
	}
	if !ok {
		return domain.Screen{}, domain.ErrNotFound{Entity: domain.EntityScreen, ID: id}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return domain.Screen{}, err
	}
	current.ID = id
	if _, err := tx.exec("UPDATE resource_screens SET name = ?, page_count = ?, item_count_per_page = ? WHERE id = ?",
		current.Name, current.PageCount, current.ItemCountPerPage, id); err != nil {
		return domain.Screen{}, fmt.Errorf("update screen: %w", err)
	}

	existing := make(map[int64]struct{}, len(before.Slots))
	for _, slot := range before.Slots {
		existing[slot.ID] = struct{}{}
	}
	kept := make(map[int64]struct{}, len(current.Slots))
	for i, slot := range current.Slots {
		if _, ok := existing[slot.ID]; ok && slot.ID != 0 {
			if _, err := tx.exec("UPDATE resource_screen_items SET resource_id = ?, sort_order = ?, resource_state_id = ? WHERE id = ?",
				slot.ResourceID, slot.Order, slot.ResourceStateID, slot.ID); err != nil {
				return domain.Screen{}, fmt.Errorf("update screen item: %w", err)
			}
			kept[slot.ID] = struct{}{}
			continue
		}
		slot.ID = 0
		newID, err := tx.insertSlot(id, slot)
		if err != nil {
			return domain.Screen{}, err
		}
		current.Slots[i].ID = newID
	}
	for slotID := range existing {
		if _, ok := kept[slotID]; ok {
			continue
		}
		if _, err := tx.exec("DELETE FROM resource_screen_items WHERE id = ?", slotID); err != nil {
			return domain.Screen{}, fmt.Errorf("delete screen item: %w", err)
		}
	}
	tx.recordChange(domain.Change{Entity: domain.EntityScreen, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current, nil
}

// DeleteScreen removes a screen and its slots.
func (tx *transaction) DeleteScreen(id int64) error {
	current, ok, err := tx.FindScreen(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityScreen, ID: id}
	}
	if _, err := tx.exec("DELETE FROM resource_screen_items WHERE screen_id = ?", id); err != nil {
		return fmt.Errorf("delete screen items: %w", err)
	}
	if _, err := tx.exec("DELETE FROM resource_screens WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete screen: %w", err)
	}
	tx.recordChange(domain.Change{Entity: domain.EntityScreen, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateState stores a state vocabulary entry.
func (tx *transaction) CreateState(st domain.State) (domain.State, error) {
	var err error
	if st.ID, err = tx.insert("resource_states", st.ID, "name", st.Name); err != nil {
		return domain.State{}, err
	}
	tx.recordChange(domain.Change{Entity: domain.EntityState, Action: domain.ActionCreate, After: st})
	return st, nil
}
