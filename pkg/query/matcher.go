package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flowbase/rudder/pkg/event"
)

// Matcher decides whether a Change Event falls within a query's filter,
// per the grammar in spec.md §4.3:
//
//	MATCH ( <var> : <EntityType> )
//	(WHERE <var>.<field> = '<value>')*
//
// Parsing is intentionally a pair of regular expressions, not a general
// grammar (spec.md §9 is explicit that a full graph query language is out
// of scope). Field resolution is extended beyond the spec's flat baseline
// to accept dotted nested paths (e.g. "address.city"), resolved with
// gjson against the event's JSON-marshaled data.
type Matcher struct {
	raw        string
	entityType string // "" means match any entity type
	predicates []predicate
	degraded   bool
}

type predicate struct {
	field    string // dotted gjson path, e.g. "status" or "address.city"
	expected string
}

var (
	matchRe = regexp.MustCompile(`(?i)MATCH\s*\(\s*(\w+)\s*:\s*(\w+)\s*\)`)
	whereRe = regexp.MustCompile(`(?i)WHERE\s+(\w+)\.([\w.]+)\s*=\s*'([^']*)'`)
)

// Parse parses query text into a Matcher. Unrecognized syntax beyond the
// MATCH/WHERE subset is never an error: per spec.md §4.3, such queries
// must still be accepted and behave as "match all events of the declared
// entity type" (or any entity type, if even the MATCH clause didn't
// parse; recognized WHERE clauses still apply). Matcher.Degraded reports whether that happened, so a host can
// choose to surface it instead of it silently vanishing.
func Parse(text string) (*Matcher, error) {
	m := &Matcher{raw: text}

	consumed := text

	if loc := matchRe.FindStringSubmatchIndex(text); loc != nil {
		groups := matchRe.FindStringSubmatch(text)
		m.entityType = groups[2]
		consumed = strings.Replace(consumed, text[loc[0]:loc[1]], "", 1)
	}

	for _, groups := range whereRe.FindAllStringSubmatch(text, -1) {
		m.predicates = append(m.predicates, predicate{
			field:    groups[2],
			expected: groups[3],
		})
	}
	consumed = whereRe.ReplaceAllString(consumed, "")

	if strings.TrimSpace(consumed) != "" {
		m.degraded = true
	}

	return m, nil
}

// EntityType returns the parsed entity-type filter, or "" if none was
// recognized (match any type).
func (m *Matcher) EntityType() string { return m.entityType }

// Degraded reports whether the source query text contained syntax beyond
// the recognized MATCH/WHERE-equality subset, which was silently dropped
// per spec.md §4.3's documented behavior.
func (m *Matcher) Degraded() bool { return m.degraded }

// Raw returns the original query text.
func (m *Matcher) Raw() string { return m.raw }

// Matches implements the algorithm of spec.md §4.3:
//  1. if an entity-type filter was parsed, require case-insensitive
//     equality with event.EntityType; else accept any.
//  2. let data = event.After ?? event.Before. If there is no data and
//     there are field predicates, false. Otherwise every predicate's
//     field must exist in data and its string form must equal the
//     expected string.
func (m *Matcher) Matches(c event.Change) bool {
	if m.entityType != "" && !strings.EqualFold(m.entityType, c.EntityType) {
		return false
	}

	data := c.Data()
	if len(m.predicates) == 0 {
		return true
	}
	if data == nil {
		return false
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return false
	}

	for _, p := range m.predicates {
		result := gjson.GetBytes(payload, p.field)
		if !result.Exists() {
			return false
		}
		if result.String() != p.expected {
			return false
		}
	}
	return true
}

// String renders a human-readable summary, useful in logs.
func (m *Matcher) String() string {
	return fmt.Sprintf("Matcher{entityType=%q predicates=%d degraded=%v}", m.entityType, len(m.predicates), m.degraded)
}
