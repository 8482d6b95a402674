// Package query implements the Continuous Query declarative configuration
// and the small pattern-matching dialect described in spec.md §4.3.
package query

// Continuous is a declarative continuous query configuration, per spec §3.
type Continuous struct {
	ID   string
	Name string
	// Query is the pattern text in the dialect Matcher parses.
	Query string
	// SourceIDs restricts which Source ids this query listens to. Empty
	// or nil means "all sources".
	SourceIDs []string
	Config    Config
}

// Config holds optional per-query settings. It is currently empty in the
// core (spec §3 names it but does not specify fields beyond source
// filtering, which lives on Continuous.SourceIDs); it exists so hosts have
// a stable place to extend without changing the Continuous shape.
type Config struct{}

// SourceIDSet returns SourceIDs as a lookup set. A nil/empty result means
// "accept all sources".
func (q Continuous) SourceIDSet() map[string]struct{} {
	if len(q.SourceIDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(q.SourceIDs))
	for _, id := range q.SourceIDs {
		set[id] = struct{}{}
	}
	return set
}
