// Package reaction defines the Reaction contract, the abstract Base helper
// that implements retry/stats/health bookkeeping on every concrete
// reaction's behalf, and the provider contract used to discover reaction
// kinds. See spec.md §4.5 and §6.
package reaction

import (
	"context"
	"time"

	"github.com/flowbase/rudder/pkg/executor"
)

// Health reports a reaction's current operational status, per
// spec.md §4.5's health policy.
type Health struct {
	Healthy bool
	Status  string // "STOPPED", "HEALTHY", "UNHEALTHY"
	Message string
}

// Stats accumulates a reaction's lifetime processing counters, per
// spec.md §4.5.
type Stats struct {
	TotalProcessed  uint64
	TotalErrors     uint64
	Added           uint64
	Updated         uint64
	Deleted         uint64
	AvgProcessingMs float64
	LastProcessedAt time.Time
}

// Reaction consumes Result Updates from one or more queries and performs a
// side effect. Concrete reactions are expected to embed *Base and supply
// their handlers via the WithOnAdded/WithOnUpdated/WithOnDeleted options;
// the dispatcher only ever calls
// ProcessChange.
type Reaction interface {
	ID() string
	Name() string
	Kind() string
	QueryIDs() []string
	Properties() map[string]interface{}

	// ProcessChange is the single entry point the dispatcher uses to
	// deliver a Result Update.
	ProcessChange(ctx context.Context, change executor.Update) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool

	Health() Health
	Stats() Stats
}
