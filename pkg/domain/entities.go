// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by resourcecore.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence tables.
const (
	// EntityResource identifies a physical resource (table, room, unit).
	EntityResource EntityType = "resource"
	// EntityResourceType identifies a resource classification.
	EntityResourceType EntityType = "resource_type"
	// EntityState identifies a state vocabulary entry.
	EntityState EntityType = "resource_state"
	// EntityStateEvent identifies an appended state change event.
	EntityStateEvent EntityType = "resource_state_value"
	// EntityScreen identifies a paginated resource screen.
	EntityScreen EntityType = "resource_screen"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// MaxSearchResults bounds the candidate set of a resource search.
const MaxSearchResults = 250

// Resource represents a trackable physical unit whose status is monitored.
type Resource struct {
	ID             int64  `json:"id"`
	ResourceTypeID int64  `json:"resource_type_id"`
	Name           string `json:"name"`
	// CustomData holds the serialized custom field values, see DecodeCustomData.
	CustomData string `json:"custom_data"`
}

// CustomDataValue is a single named value stored in Resource.CustomData.
type CustomDataValue struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// DecodeCustomData parses the custom field payload of a resource. An empty
// payload yields no values.
func DecodeCustomData(raw string) ([]CustomDataValue, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var values []CustomDataValue
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// EncodeCustomData serializes custom field values into the CustomData format.
func EncodeCustomData(values []CustomDataValue) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

// CustomField declares a structured field exposed by resources of a type.
type CustomField struct {
	Name string `json:"name"`
	// Hidden fields still match but are not reported as visible matches.
	Hidden bool `json:"hidden"`
	// MatchExpr optionally overrides the default case-insensitive contains
	// match. It is an expr-lang boolean expression over `value` and `search`.
	MatchExpr string `json:"match_expr,omitempty"`
}

// ResourceType classifies resources and governs which fields are searchable.
type ResourceType struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	EntityName string        `json:"entity_name"`
	Fields     []CustomField `json:"fields"`
}

// State is a display vocabulary entry for a state identifier.
type State struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// StateChangeEvent is an immutable entry in the resource state log. The event
// with the greatest ID for a resource is authoritative; Date is informational.
type StateChangeEvent struct {
	ID         int64     `json:"id"`
	ResourceID int64     `json:"resource_id"`
	StateID    int64     `json:"state_id"`
	Date       time.Time `json:"date"`
}

// ScreenSlot binds a resource to an ordered position on a screen.
type ScreenSlot struct {
	ID         int64 `json:"id"`
	ResourceID int64 `json:"resource_id"`
	Order      int   `json:"order"`
	// ResourceStateID caches the resolved state; only screen refresh writes it.
	ResourceStateID int64 `json:"resource_state_id"`
}

// Screen is a paginated display surface owning its slots.
type Screen struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	PageCount        int          `json:"page_count"`
	ItemCountPerPage int          `json:"item_count_per_page"`
	Slots            []ScreenSlot `json:"slots"`
}

// Clone returns a deep copy of the screen.
func (s Screen) Clone() Screen {
	cp := s
	cp.Slots = append([]ScreenSlot(nil), s.Slots...)
	return cp
}

// Clone returns a deep copy of the resource type.
func (t ResourceType) Clone() ResourceType {
	cp := t
	cp.Fields = append([]CustomField(nil), t.Fields...)
	return cp
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported modifications captured in the change set.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionAppend indicates a state event was appended to the log.
	ActionAppend Action = "append"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
