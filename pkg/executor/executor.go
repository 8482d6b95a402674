// Package executor implements the Query Executor: per-query incremental
// view maintenance over a Change Event stream, per spec.md §4.4.
package executor

import (
	"sync"
	"time"

	"github.com/flowbase/rudder/internal/rudderlog"
	"github.com/flowbase/rudder/pkg/event"
	"github.com/flowbase/rudder/pkg/query"
)

// Stats accumulates lifetime counts of emitted Result Updates, by type.
// This is an addition beyond spec.md §4.4's minimum (see SPEC_FULL.md),
// giving hosts the same operational visibility spec.md §4.5 mandates for
// reactions.
type Stats struct {
	Added   uint64
	Updated uint64
	Removed uint64
}

// Executor owns one query's result cache and computes the ADDED/UPDATED/
// REMOVED deltas implied by each incoming Change Event.
type Executor struct {
	q       query.Continuous
	matcher *query.Matcher
	log     *rudderlog.Logger

	mu    sync.RWMutex
	cache map[string]Result

	statsMu sync.Mutex
	stats   Stats
}

// New constructs an Executor for q. matcher must have been parsed from
// q.Query (callers own parsing so they can surface parse-time errors
// before wiring the executor into the engine).
func New(q query.Continuous, matcher *query.Matcher, log *rudderlog.Logger) *Executor {
	if log == nil {
		log = rudderlog.NewFromEnv("executor")
	}
	return &Executor{
		q:       q,
		matcher: matcher,
		log:     log,
		cache:   make(map[string]Result),
	}
}

// QueryID returns the id of the query this executor serves.
func (e *Executor) QueryID() string { return e.q.ID }

// Run consumes in until it is closed, emitting Result Updates to the
// returned channel (which Run closes when in closes). Updates derived
// from a single Change Event are always sent, in order, before the next
// Change Event is read from in — spec.md §4.4's ordering guarantee.
func (e *Executor) Run(in <-chan event.Change) <-chan Update {
	out := make(chan Update, 64)
	sourceIDs := e.q.SourceIDSet()

	go func() {
		defer close(out)
		for c := range in {
			if sourceIDs != nil {
				if _, ok := sourceIDs[c.SourceID]; !ok {
					continue
				}
			}
			for _, upd := range e.apply(c) {
				out <- upd
			}
		}
	}()

	return out
}

// apply computes 0..N Result Updates for a single Change Event per the
// table in spec.md §4.4, mutating the cache accordingly.
func (e *Executor) apply(c event.Change) []Update {
	resultID := ResultID(e.q.ID, c.EntityType, c.EntityID)
	matches := e.matcher.Matches(c)

	e.mu.Lock()
	existing, hasExisting := e.cache[resultID]
	var upd *Update

	switch c.Kind {
	case event.Delete:
		if hasExisting {
			delete(e.cache, resultID)
			before := existing
			upd = &Update{QueryID: e.q.ID, Type: Removed, Before: &before, Timestamp: time.Now().UTC()}
		}
	default: // INSERT, UPDATE, SNAPSHOT
		if matches {
			newResult := Result{
				ResultID:  resultID,
				QueryID:   e.q.ID,
				Data:      c.After,
				Timestamp: time.Now().UTC(),
				Metadata: ResultMetadata{
					EntityType: c.EntityType,
					EntityID:   c.EntityID,
					SourceID:   c.SourceID,
				},
			}
			switch {
			case !hasExisting:
				e.cache[resultID] = newResult
				upd = &Update{QueryID: e.q.ID, Type: Added, After: &newResult, Timestamp: newResult.Timestamp}
			case !existing.Equal(newResult):
				e.cache[resultID] = newResult
				before := existing
				upd = &Update{QueryID: e.q.ID, Type: Updated, Before: &before, After: &newResult, Timestamp: newResult.Timestamp}
			default:
				// no-op: identical data
			}
		} else if hasExisting {
			delete(e.cache, resultID)
			before := existing
			upd = &Update{QueryID: e.q.ID, Type: Removed, Before: &before, Timestamp: time.Now().UTC()}
		}
	}
	e.mu.Unlock()

	if upd == nil {
		return nil
	}
	e.recordStat(upd.Type)
	return []Update{*upd}
}

func (e *Executor) recordStat(t UpdateType) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	switch t {
	case Added:
		e.stats.Added++
	case Updated:
		e.stats.Updated++
	case Removed:
		e.stats.Removed++
	}
}

// Stats returns a snapshot of this executor's lifetime delta counts.
func (e *Executor) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Cache returns a point-in-time copy of the current materialized view,
// keyed by ResultID.
func (e *Executor) Cache() map[string]Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Result, len(e.cache))
	for k, v := range e.cache {
		out[k] = v
	}
	return out
}
