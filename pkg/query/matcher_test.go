package query

import (
	"testing"

	"github.com/flowbase/rudder/pkg/event"
)

func mustChange(t *testing.T, c event.Change) event.Change {
	t.Helper()
	out, err := event.New(c)
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return out
}

func TestMatcher_EntityTypeOnly(t *testing.T) {
	m, err := Parse(`MATCH (o:Order)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Degraded() {
		t.Errorf("expected not degraded")
	}

	order := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Order", EntityID: "1", After: event.Fields{"status": "READY"}})
	if !m.Matches(order) {
		t.Errorf("expected Order to match")
	}

	other := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Customer", EntityID: "1", After: event.Fields{"status": "READY"}})
	if m.Matches(other) {
		t.Errorf("expected Customer not to match Order filter")
	}
}

func TestMatcher_WhereEquality(t *testing.T) {
	m, err := Parse(`MATCH (o:Order) WHERE o.status = 'READY'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ready := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Order", EntityID: "1", After: event.Fields{"status": "READY"}})
	if !m.Matches(ready) {
		t.Errorf("expected READY order to match")
	}

	pending := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Order", EntityID: "1", After: event.Fields{"status": "PENDING"}})
	if m.Matches(pending) {
		t.Errorf("expected PENDING order not to match")
	}
}

func TestMatcher_MultipleWhereClauses(t *testing.T) {
	m, err := Parse(`MATCH (o:Order) WHERE o.status = 'READY' WHERE o.region = 'US'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	match := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Order", EntityID: "1", After: event.Fields{"status": "READY", "region": "US"}})
	if !m.Matches(match) {
		t.Errorf("expected both predicates to match")
	}

	noMatch := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Order", EntityID: "1", After: event.Fields{"status": "READY", "region": "EU"}})
	if m.Matches(noMatch) {
		t.Errorf("expected region mismatch to fail")
	}
}

func TestMatcher_DeleteUsesBefore(t *testing.T) {
	m, err := Parse(`MATCH (o:Order) WHERE o.status = 'READY'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	del := mustChange(t, event.Change{Kind: event.Delete, EntityType: "Order", EntityID: "1", Before: event.Fields{"status": "READY"}})
	if !m.Matches(del) {
		t.Errorf("expected DELETE to be matched against Before")
	}
}

func TestMatcher_NestedFieldPath(t *testing.T) {
	m, err := Parse(`MATCH (o:Order) WHERE o.address.city = 'NYC'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	c := mustChange(t, event.Change{
		Kind: event.Insert, EntityType: "Order", EntityID: "1",
		After: event.Fields{"address": map[string]interface{}{"city": "NYC"}},
	})
	if !m.Matches(c) {
		t.Errorf("expected nested field match")
	}
}

func TestMatcher_UnrecognizedSyntaxDegradesToLabelOnly(t *testing.T) {
	m, err := Parse(`MATCH (o:Order) WHERE o.total > 100 RETURN o`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.Degraded() {
		t.Errorf("expected unrecognized syntax to be flagged as degraded")
	}

	// No predicates were recognized (">" isn't equality), so it behaves
	// as match-by-label-only.
	c := mustChange(t, event.Change{Kind: event.Insert, EntityType: "Order", EntityID: "1", After: event.Fields{"total": 5}})
	if !m.Matches(c) {
		t.Errorf("expected degraded query to still match by entity type")
	}
}

func TestMatcher_NoPredicatesNoDataStillMatchesByType(t *testing.T) {
	m, err := Parse(`MATCH (o:Order)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := event.Change{Kind: event.Delete, EntityType: "Order", EntityID: "1", Before: event.Fields{}}
	if !m.Matches(c) {
		t.Errorf("expected match with no predicates regardless of data")
	}
}
