package executor

import (
	"reflect"
	"time"

	"github.com/flowbase/rudder/pkg/event"
)

// Result is one row of a query's materialized view, per spec.md §3.
type Result struct {
	ResultID  string
	QueryID   string
	Data      event.Fields
	Timestamp time.Time
	Metadata  ResultMetadata
}

// ResultMetadata carries the provenance of a Result.
type ResultMetadata struct {
	EntityType string
	EntityID   string
	SourceID   string
}

// Equal reports structural equality of Data, which spec.md §3 uses to
// distinguish an UPDATED delta from a no-op.
func (r Result) Equal(other Result) bool {
	return reflect.DeepEqual(r.Data, other.Data)
}

// UpdateType identifies the kind of delta a Result Update carries.
type UpdateType string

const (
	Added   UpdateType = "ADDED"
	Updated UpdateType = "UPDATED"
	Removed UpdateType = "REMOVED"
)

// Update is a Result Update (delta), per spec.md §3.
type Update struct {
	QueryID   string
	Type      UpdateType
	Before    *Result
	After     *Result
	Timestamp time.Time
}

// ResultID derives the deterministic cache slot key for (queryID,
// entityType, entityID), per spec.md §4.4.
func ResultID(queryID, entityType, entityID string) string {
	return queryID + "_" + entityType + "_" + entityID
}
