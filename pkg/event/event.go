// Package event defines the Change Event data model: the immutable record
// of a single entity mutation observed by a Source, per spec §3.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of mutation a Change carries.
type Kind string

const (
	Insert   Kind = "INSERT"
	Update   Kind = "UPDATE"
	Delete   Kind = "DELETE"
	Snapshot Kind = "SNAPSHOT"
)

// Fields is a field->value payload, used for both Before and After.
type Fields map[string]interface{}

// Change is one immutable, source-observed entity mutation.
type Change struct {
	ID         string
	Kind       Kind
	EntityType string
	EntityID   string
	Before     Fields
	After      Fields
	Timestamp  time.Time
	SourceID   string
	Metadata   map[string]interface{}
}

// New constructs a Change and validates the before/after invariants for
// its Kind:
//
//	INSERT / SNAPSHOT: After only.
//	UPDATE:            both Before and After.
//	DELETE:            Before only.
//
// This is stricter than spec.md requires of callers, but catches malformed
// adapter output at the boundary instead of letting it silently corrupt a
// query's cache.
func New(c Change) (Change, error) {
	switch c.Kind {
	case Insert, Snapshot:
		if c.After == nil {
			return Change{}, fmt.Errorf("event: %s requires After", c.Kind)
		}
		if c.Before != nil {
			return Change{}, fmt.Errorf("event: %s must not set Before", c.Kind)
		}
	case Update:
		if c.Before == nil || c.After == nil {
			return Change{}, fmt.Errorf("event: UPDATE requires both Before and After")
		}
	case Delete:
		if c.Before == nil {
			return Change{}, fmt.Errorf("event: DELETE requires Before")
		}
		if c.After != nil {
			return Change{}, fmt.Errorf("event: DELETE must not set After")
		}
	default:
		return Change{}, fmt.Errorf("event: unrecognized kind %q", c.Kind)
	}
	if c.EntityType == "" {
		return Change{}, fmt.Errorf("event: EntityType is required")
	}
	if c.EntityID == "" {
		return Change{}, fmt.Errorf("event: EntityID is required")
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return c, nil
}

// Data returns the payload an interested reader should use to evaluate
// predicates against this event: After when present, otherwise Before.
// This matches the Query Matcher's "event.after ?? event.before" rule in
// spec.md §4.3 and is shared with the executor.
func (c Change) Data() Fields {
	if c.After != nil {
		return c.After
	}
	return c.Before
}
