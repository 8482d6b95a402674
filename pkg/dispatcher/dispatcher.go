// Package dispatcher implements the Query Change Dispatcher of
// spec.md §4.7: it routes Result Updates from query executors to the
// reactions subscribed to that query, honoring each reaction's execution
// mode (SYNC/ASYNC/BATCH), concurrency bound, and throttle rate, and
// isolating one reaction's failure from the rest. Grounded on the
// teacher's pkg/pgnotify fan-out bus for the subscription-map shape and
// on infrastructure/resilience for the rate-limited invocation path.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowbase/rudder/internal/rudderlog"
	"github.com/flowbase/rudder/pkg/executor"
	"github.com/flowbase/rudder/pkg/reaction"
	"github.com/flowbase/rudder/pkg/registry"
)

// invoker runs one reaction according to its execution mode.
type invoker struct {
	rxn reaction.Reaction

	mode  reaction.ExecutionMode
	sem   chan struct{}   // ASYNC concurrency bound
	limit *rate.Limiter   // throttle, nil if unthrottled
	syncMu sync.Mutex     // SYNC serialization

	batchMu     sync.Mutex
	batch       []executor.Update
	batchSize   int
	batchWindow time.Duration
	flushTimer  *time.Timer

	log *rudderlog.Logger
}

// executionAware is implemented by *reaction.Base (and anything embedding
// it); reactions that don't expose an ExecutionConfig fall back to the
// defaults.
type executionAware interface {
	Execution() reaction.ExecutionConfig
}

func newInvoker(rxn reaction.Reaction, log *rudderlog.Logger) *invoker {
	ex := reaction.DefaultExecutionConfig()
	if aware, ok := rxn.(executionAware); ok {
		ex = aware.Execution()
	}

	inv := &invoker{
		rxn:         rxn,
		mode:        ex.Mode,
		batchSize:   ex.BatchSize,
		batchWindow: time.Duration(ex.BatchWindowMs) * time.Millisecond,
		log:         log,
	}
	if ex.Mode == reaction.Async {
		maxConc := ex.MaxConcurrency
		if maxConc <= 0 {
			maxConc = 1
		}
		inv.sem = make(chan struct{}, maxConc)
	}
	if ex.ThrottleRateMs > 0 {
		interval := time.Duration(ex.ThrottleRateMs) * time.Millisecond
		inv.limit = rate.NewLimiter(rate.Every(interval), 1)
	}
	return inv
}

func (inv *invoker) deliver(ctx context.Context, update executor.Update) {
	switch inv.mode {
	case reaction.Sync:
		inv.deliverSync(ctx, update)
	case reaction.Batch:
		inv.deliverBatch(ctx, update)
	default: // Async
		inv.deliverAsync(ctx, update)
	}
}

func (inv *invoker) deliverSync(ctx context.Context, update executor.Update) {
	inv.syncMu.Lock()
	defer inv.syncMu.Unlock()
	inv.invokeOne(ctx, update)
}

func (inv *invoker) deliverAsync(ctx context.Context, update executor.Update) {
	inv.sem <- struct{}{}
	go func() {
		defer func() { <-inv.sem }()
		inv.invokeOne(ctx, update)
	}()
}

// deliverBatch accumulates updates and flushes when the batch fills or
// the window elapses, per spec.md §4.7.
func (inv *invoker) deliverBatch(ctx context.Context, update executor.Update) {
	inv.batchMu.Lock()
	inv.batch = append(inv.batch, update)
	full := len(inv.batch) >= inv.batchSize
	if inv.flushTimer == nil {
		inv.flushTimer = time.AfterFunc(inv.batchWindow, func() { inv.flushBatch(ctx) })
	}
	inv.batchMu.Unlock()

	if full {
		inv.flushBatch(ctx)
	}
}

func (inv *invoker) flushBatch(ctx context.Context) {
	inv.batchMu.Lock()
	if inv.flushTimer != nil {
		inv.flushTimer.Stop()
		inv.flushTimer = nil
	}
	pending := inv.batch
	inv.batch = nil
	inv.batchMu.Unlock()

	for _, update := range pending {
		inv.invokeOne(ctx, update)
	}
}

// invokeOne applies throttling then calls ProcessChange, logging any
// error without propagating it (failure isolation, spec.md §5).
func (inv *invoker) invokeOne(ctx context.Context, update executor.Update) {
	if inv.limit != nil {
		if err := inv.limit.Wait(ctx); err != nil {
			return
		}
	}
	if err := inv.rxn.ProcessChange(ctx, update); err != nil {
		inv.log.With(map[string]interface{}{
			"reaction_id": inv.rxn.ID(),
			"query_id":    update.QueryID,
		}).WithError(err).Warn("reaction failed to process change")
	}
}

// Dispatcher routes Result Updates to subscribed reactions.
type Dispatcher struct {
	log      *rudderlog.Logger
	registry *registry.Registry

	mu            sync.RWMutex
	subscriptions map[string]map[string]struct{} // queryID -> set of reactionID
	invokers      map[string]*invoker             // reactionID -> invoker, lazily built
}

// New constructs a Dispatcher that resolves reactions through reg.
func New(reg *registry.Registry, log *rudderlog.Logger) *Dispatcher {
	if log == nil {
		log = rudderlog.NewFromEnv("dispatcher")
	}
	return &Dispatcher{
		log:           log,
		registry:      reg,
		subscriptions: make(map[string]map[string]struct{}),
		invokers:      make(map[string]*invoker),
	}
}

// Subscribe attaches reactionID to queryID's change stream.
func (d *Dispatcher) Subscribe(queryID, reactionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subscriptions[queryID]
	if !ok {
		set = make(map[string]struct{})
		d.subscriptions[queryID] = set
	}
	set[reactionID] = struct{}{}
}

// Unsubscribe detaches reactionID from queryID's change stream.
func (d *Dispatcher) Unsubscribe(queryID, reactionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.subscriptions[queryID]; ok {
		delete(set, reactionID)
		if len(set) == 0 {
			delete(d.subscriptions, queryID)
		}
	}
}

func (d *Dispatcher) subscribersOf(queryID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.subscriptions[queryID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) invokerFor(rxn reaction.Reaction) *invoker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if inv, ok := d.invokers[rxn.ID()]; ok {
		return inv
	}
	inv := newInvoker(rxn, d.log)
	d.invokers[rxn.ID()] = inv
	return inv
}

// DispatchChange delivers update to every reaction subscribed to
// update.QueryID. A failure in one reaction is caught and logged; it
// must never prevent the others from receiving the same update
// (spec.md §5, scenario 6).
func (d *Dispatcher) DispatchChange(ctx context.Context, update executor.Update) {
	for _, reactionID := range d.subscribersOf(update.QueryID) {
		rxn, ok := d.registry.Get(reactionID)
		if !ok {
			continue
		}
		inv := d.invokerFor(rxn)
		inv.deliver(ctx, update)
	}
}

// Run drains updates from a query's output channel, dispatching each to
// subscribers, until the channel closes.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan executor.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			d.DispatchChange(ctx, update)
		}
	}
}

// ConnectToQuery pulls rows from an initial evaluation and dispatches
// each as an ADDED update, per spec.md §4.7.
func (d *Dispatcher) ConnectToQuery(ctx context.Context, queryID string, initial []executor.Result) {
	for i := range initial {
		row := initial[i]
		d.DispatchChange(ctx, executor.Update{
			QueryID:   queryID,
			Type:      executor.Added,
			After:     &row,
			Timestamp: time.Now().UTC(),
		})
	}
}
