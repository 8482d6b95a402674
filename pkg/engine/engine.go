// Package engine implements the Rudder Engine of spec.md §4.1: the
// top-level lifecycle owner that wires Sources into the change bus,
// Queries into executors subscribed to the change bus, and Reactions
// into the dispatcher subscribed to the result bus. Grounded on the
// teacher's infrastructure/service.BaseService start/stop state machine,
// generalized from a single HTTP/worker service to a multi-pipeline
// event-driven engine.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowbase/rudder/internal/rudderlog"
	"github.com/flowbase/rudder/pkg/bus"
	"github.com/flowbase/rudder/pkg/dispatcher"
	"github.com/flowbase/rudder/pkg/event"
	"github.com/flowbase/rudder/pkg/executor"
	"github.com/flowbase/rudder/pkg/query"
	"github.com/flowbase/rudder/pkg/reaction"
	"github.com/flowbase/rudder/pkg/registry"
	"github.com/flowbase/rudder/pkg/rudderr"
	"github.com/flowbase/rudder/pkg/source"
)

// Status is the Engine's lifecycle state.
type Status string

const (
	Created  Status = "CREATED"
	Starting Status = "STARTING"
	Running  Status = "RUNNING"
	Stopping Status = "STOPPING"
	Stopped  Status = "STOPPED"
	Error    Status = "ERROR"
)

// Config controls the Engine's internal bus buffering.
type Config struct {
	ChangeBusBuffer int
	ResultBusBuffer int
}

// DefaultConfig returns sensible defaults for the two internal buses.
func DefaultConfig() Config {
	return Config{ChangeBusBuffer: 1024, ResultBusBuffer: 1024}
}

func (c Config) Validate() Config {
	d := DefaultConfig()
	if c.ChangeBusBuffer <= 0 {
		c.ChangeBusBuffer = d.ChangeBusBuffer
	}
	if c.ResultBusBuffer <= 0 {
		c.ResultBusBuffer = d.ResultBusBuffer
	}
	return c
}

type sourceEntry struct {
	src    source.Source
	cancel context.CancelFunc
}

type queryEntry struct {
	q   query.Continuous
	exc *executor.Executor
	sub func() // unsubscribe from changeBus
}

// Engine is the top-level Rudder pipeline host.
type Engine struct {
	cfg Config
	log *rudderlog.Logger

	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher

	changeBus *bus.Bus[event.Change]
	resultBus *bus.Bus[executor.Update]

	mu      sync.RWMutex
	status  Status
	sources map[string]*sourceEntry
	queries map[string]*queryEntry

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs an Engine in the CREATED state.
func New(cfg Config, reg *registry.Registry, log *rudderlog.Logger) *Engine {
	cfg = cfg.Validate()
	if log == nil {
		log = rudderlog.NewFromEnv("engine")
	}
	if reg == nil {
		reg = registry.New()
	}
	return &Engine{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		dispatcher: dispatcher.New(reg, log),
		changeBus:  bus.New[event.Change]("change", bus.Config{BufferSize: cfg.ChangeBusBuffer}, log),
		resultBus:  bus.New[executor.Update]("result", bus.Config{BufferSize: cfg.ResultBusBuffer}, log),
		status:     Created,
		sources:    make(map[string]*sourceEntry),
		queries:    make(map[string]*queryEntry),
	}
}

// Status returns the Engine's current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Start transitions CREATED/STOPPED -> STARTING -> RUNNING, wiring every
// registered Source, Query, and Reaction. Starting twice from RUNNING
// returns InvalidState.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status != Created && e.status != Stopped {
		status := e.status
		e.mu.Unlock()
		return rudderr.NewInvalidState(fmt.Sprintf("cannot start engine from state %s", status))
	}
	e.status = Starting
	e.mu.Unlock()

	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	e.mu.RLock()
	sources := make([]*sourceEntry, 0, len(e.sources))
	for _, s := range e.sources {
		sources = append(sources, s)
	}
	queries := make([]*queryEntry, 0, len(e.queries))
	for _, q := range e.queries {
		queries = append(queries, q)
	}
	e.mu.RUnlock()

	for _, s := range sources {
		if err := e.wireSource(e.runCtx, s); err != nil {
			e.setStatus(Error)
			return err
		}
	}
	for _, q := range queries {
		e.wireQuery(e.runCtx, q)
	}

	for _, rxn := range e.registry.List() {
		if !rxn.IsRunning() {
			if err := rxn.Start(e.runCtx); err != nil {
				e.setStatus(Error)
				return err
			}
		}
	}

	e.setStatus(Running)
	return nil
}

// Stop transitions RUNNING -> STOPPING -> STOPPED: stops every source,
// unsubscribes every query, and completes both buses. A no-op unless
// currently RUNNING.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.status != Running {
		e.mu.Unlock()
		return nil
	}
	e.status = Stopping
	sources := make([]*sourceEntry, 0, len(e.sources))
	for _, s := range e.sources {
		sources = append(sources, s)
	}
	queries := make([]*queryEntry, 0, len(e.queries))
	for _, q := range e.queries {
		queries = append(queries, q)
	}
	e.mu.Unlock()

	if e.runCancel != nil {
		e.runCancel()
	}

	for _, s := range sources {
		if err := s.src.Stop(ctx); err != nil {
			e.log.WithError(err).Warn("source failed to stop cleanly")
		}
	}
	for _, q := range queries {
		if q.sub != nil {
			q.sub()
		}
	}
	for _, rxn := range e.registry.List() {
		if rxn.IsRunning() {
			rxn.Stop(ctx)
		}
	}

	e.wg.Wait()
	e.changeBus.Close()
	e.resultBus.Close()

	e.setStatus(Stopped)
	return nil
}

// AddSource registers a Source. If the engine is RUNNING, it is
// immediately started and wired into the change bus.
func (e *Engine) AddSource(ctx context.Context, src source.Source) error {
	entry := &sourceEntry{src: src}

	e.mu.Lock()
	e.sources[src.ID()] = entry
	running := e.status == Running
	e.mu.Unlock()

	if running {
		return e.wireSource(e.runCtx, entry)
	}
	return nil
}

func (e *Engine) wireSource(ctx context.Context, entry *sourceEntry) error {
	subCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel

	events, errc, err := entry.src.Start(subCtx)
	if err != nil {
		cancel()
		return rudderr.NewSourceError(entry.src.ID(), err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for events != nil || errc != nil {
			select {
			case c, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				e.changeBus.Publish(c)
			case err, ok := <-errc:
				if !ok {
					errc = nil
					continue
				}
				e.log.With(map[string]interface{}{"source_id": entry.src.ID()}).WithError(err).Error("source stream failed")
			case <-subCtx.Done():
				return
			}
		}
	}()
	return nil
}

// AddQuery registers a Continuous query, subscribing it to the change
// bus and piping its Result Updates into the result bus. If the engine
// is RUNNING, the wiring happens immediately.
func (e *Engine) AddQuery(q query.Continuous) (*executor.Executor, error) {
	m, err := compileMatcher(q)
	if err != nil {
		return nil, err
	}
	exc := executor.New(q, m, e.log)

	entry := &queryEntry{q: q, exc: exc}

	e.mu.Lock()
	e.queries[q.ID] = entry
	running := e.status == Running
	e.mu.Unlock()

	if running {
		e.wireQuery(e.runCtx, entry)
	}
	return exc, nil
}

func (e *Engine) wireQuery(ctx context.Context, entry *queryEntry) {
	changes, unsub := e.changeBus.Subscribe()
	entry.sub = unsub

	updates := entry.exc.Run(changes)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for update := range updates {
			e.resultBus.Publish(update)
		}
	}()
}

// AddReaction constructs a reaction from cfg via the registry and
// subscribes it to its declared queries through the dispatcher.
func (e *Engine) AddReaction(ctx context.Context, cfg reaction.Config) (reaction.Reaction, error) {
	rxn, err := e.registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	for _, queryID := range cfg.QueryIDs {
		e.dispatcher.Subscribe(queryID, cfg.ID)
	}
	if e.Status() == Running {
		if err := rxn.Start(ctx); err != nil {
			return nil, err
		}
	}
	return rxn, nil
}

// ResyncSource pulls src's Snapshot and republishes every row onto the
// change bus, letting query executors re-evaluate the current state the
// same way they would a live INSERT/UPDATE/DELETE. Used by hosts that
// schedule a periodic full resync alongside the live stream.
func (e *Engine) ResyncSource(ctx context.Context, src source.Source) error {
	events, errc, err := src.Snapshot(ctx)
	if err != nil {
		return rudderr.NewSourceError(src.ID(), err)
	}
	for events != nil || errc != nil {
		select {
		case c, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.changeBus.Publish(c)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				return rudderr.NewSourceError(src.ID(), err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run drains the result bus into the dispatcher until ctx is cancelled.
// Call after Start.
func (e *Engine) Run(ctx context.Context) {
	updates, unsub := e.resultBus.Subscribe()
	defer unsub()
	e.dispatcher.Run(ctx, updates)
}

func compileMatcher(q query.Continuous) (*query.Matcher, error) {
	m, err := query.Parse(q.Query)
	if err != nil {
		return nil, rudderr.NewQueryEvaluationError(q.ID, err)
	}
	return m, nil
}
