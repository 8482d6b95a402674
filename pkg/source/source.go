// Package source defines the Source contract external adapters implement
// to feed Change Events into the engine, per spec.md §4.2 and §6. This
// package contains the interface only; concrete adapters (Postgres CDC,
// MongoDB change streams, Kafka, ...) are out of scope for the core and
// live, as illustrations, under examples/sources.
package source

import (
	"context"

	"github.com/flowbase/rudder/pkg/event"
)

// Status is the lifecycle state of a Source.
type Status string

const (
	Created  Status = "CREATED"
	Starting Status = "STARTING"
	Running  Status = "RUNNING"
	Stopping Status = "STOPPING"
	Stopped  Status = "STOPPED"
	Error    Status = "ERROR"
)

// Source produces a lazy, possibly infinite sequence of Change Events.
// Implementations must uphold the invariants in spec.md §4.2:
//   - every emitted event carries this Source's ID as SourceID;
//   - events for a given EntityID are emitted in mutation order;
//   - Stop causes the stream to complete cleanly;
//   - a streaming error transitions Status to Error and terminates the
//     stream with a failure signal (the error returned on the out channel
//     via Start, or observable through Status()/a sentinel error).
type Source interface {
	ID() string
	Name() string
	Config() map[string]interface{}
	Status() Status

	// Start begins streaming and returns a channel of events that is
	// closed when the stream ends (on Stop, or permanently on error,
	// in which case errc — also closed — carries the failure).
	Start(ctx context.Context) (events <-chan event.Change, errc <-chan error, err error)

	// Stop ends the stream; Start's channels close once any in-flight
	// read completes.
	Stop(ctx context.Context) error

	// Snapshot produces SNAPSHOT events for all current rows, then
	// closes its channel. Sources that cannot backfill may return a
	// channel that is immediately closed.
	Snapshot(ctx context.Context) (events <-chan event.Change, errc <-chan error, err error)
}
