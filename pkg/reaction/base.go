package reaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowbase/rudder/internal/rudderlog"
	"github.com/flowbase/rudder/pkg/executor"
	"github.com/flowbase/rudder/pkg/resilience"
	"github.com/flowbase/rudder/pkg/rudderr"
)

// AddedFunc handles an ADDED or (by default) UPDATED delta.
type AddedFunc func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error

// UpdatedFunc handles an UPDATED delta.
type UpdatedFunc func(ctx context.Context, before, after executor.Result, queryID string, qcfg QueryConfig) error

// DeletedFunc handles a REMOVED delta.
type DeletedFunc func(ctx context.Context, before executor.Result, queryID string, qcfg QueryConfig) error

// ErrorFunc observes a processing failure before it is handed to the
// retry layer. The default logs it.
type ErrorFunc func(change executor.Update, err error)

// Base implements the abstract Reaction of spec.md §4.5: retry, stats,
// and health bookkeeping shared by every concrete reaction kind. Concrete
// reactions embed *Base and supply behavior via options, the same builder
// pattern the teacher's infrastructure/service.BaseService uses for
// WithHydrate/WithStats/AddWorker.
type Base struct {
	cfg Config
	log *rudderlog.Logger

	onAdded   AddedFunc
	onUpdated UpdatedFunc
	onDeleted DeletedFunc
	onError   ErrorFunc

	breaker *resilience.CircuitBreaker

	running int32 // atomic bool

	totalProcessed  uint64
	totalErrors     uint64
	added           uint64
	updated         uint64
	deleted         uint64
	processingNanos uint64 // running sum, for AvgProcessingMs

	mu              sync.Mutex
	lastProcessedAt time.Time
}

// Option configures a Base at construction time.
type Option func(*Base)

// WithOnAdded sets the ADDED handler. If unset, ADDED deltas (and UPDATED
// deltas with no OnUpdated handler) succeed without doing anything and
// are not counted in the Added/Updated stats.
func WithOnAdded(fn AddedFunc) Option { return func(b *Base) { b.onAdded = fn } }

// WithOnUpdated overrides the UPDATED handler. If unset, UPDATED deltas
// delegate to the ADDED handler with the new data, per spec.md §4.5.
func WithOnUpdated(fn UpdatedFunc) Option { return func(b *Base) { b.onUpdated = fn } }

// WithOnDeleted overrides the REMOVED handler. If unset, REMOVED deltas
// are a no-op, per spec.md §4.5.
func WithOnDeleted(fn DeletedFunc) Option { return func(b *Base) { b.onDeleted = fn } }

// WithOnError overrides the failure observer. If unset, failures are
// logged through the Base's logger.
func WithOnError(fn ErrorFunc) Option { return func(b *Base) { b.onError = fn } }

// WithCircuitBreaker wraps every ProcessChange attempt in a circuit
// breaker, so a persistently failing sink fails fast instead of absorbing
// the full retry budget on every change. Disabled unless supplied. If
// cfg.ShouldTrip is unset, it defaults to tripping only on IO and Timeout
// ReactionErrorKinds (the default retryable kinds), whatever this
// reaction's Retry.RetryableErrorKinds holds;
// a VALIDATION error means the sink rejected the payload itself, which
// no amount of retrying or failing fast will fix, so it passes through
// without nudging the breaker toward Open.
func WithCircuitBreaker(cfg resilience.BreakerConfig) Option {
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool {
			switch rudderr.GetReactionErrorKind(err) {
			case rudderr.ReactionErrIO, rudderr.ReactionErrTimeout:
				return true
			default:
				return false
			}
		}
	}
	return func(b *Base) { b.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithLogger overrides the default per-reaction logger.
func WithLogger(log *rudderlog.Logger) Option { return func(b *Base) { b.log = log } }

// NewBase constructs a Base from cfg (validated against defaults) and
// options.
func NewBase(cfg Config, opts ...Option) *Base {
	cfg = cfg.Validate()
	b := &Base{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = rudderlog.NewFromEnv("reaction:" + cfg.Kind)
	}
	if b.onError == nil {
		b.onError = func(change executor.Update, err error) {
			b.log.With(map[string]interface{}{"reaction_id": cfg.ID, "query_id": change.QueryID}).WithError(err).Warn("reaction processing failed")
		}
	}
	return b
}

func (b *Base) ID() string                          { return b.cfg.ID }
func (b *Base) Name() string                        { return b.cfg.Name }
func (b *Base) Kind() string                        { return b.cfg.Kind }
func (b *Base) QueryIDs() []string                  { return b.cfg.QueryIDs }
func (b *Base) Properties() map[string]interface{}  { return b.cfg.Properties }
func (b *Base) Execution() ExecutionConfig          { return b.cfg.Execution }
func (b *Base) IsRunning() bool                     { return atomic.LoadInt32(&b.running) == 1 }

// Start marks the reaction running. Concrete reactions that hold external
// resources (an HTTP client pool, a producer connection) should call
// Base.Start from their own Start after acquiring them.
func (b *Base) Start(ctx context.Context) error {
	atomic.StoreInt32(&b.running, 1)
	return nil
}

// Stop marks the reaction stopped.
func (b *Base) Stop(ctx context.Context) error {
	atomic.StoreInt32(&b.running, 0)
	return nil
}

func (b *Base) queryConfig(queryID string) QueryConfig {
	if b.cfg.QueryConfigs == nil {
		return nil
	}
	return b.cfg.QueryConfigs[queryID]
}

// ProcessChange implements spec.md §4.5's dispatch-by-type pipeline,
// wrapped in the retry policy.
func (b *Base) ProcessChange(ctx context.Context, change executor.Update) error {
	qcfg := b.queryConfig(change.QueryID)

	attempt := func(ctx context.Context) error {
		return b.dispatchOnce(ctx, change, qcfg)
	}
	if b.breaker != nil {
		wrapped := attempt
		attempt = func(ctx context.Context) error { return b.breaker.Execute(ctx, wrapped) }
	}

	start := time.Now()
	err := b.runWithRetry(ctx, change, attempt)
	elapsed := time.Since(start)

	if err == nil {
		atomic.AddUint64(&b.totalProcessed, 1)
		atomic.AddUint64(&b.processingNanos, uint64(elapsed.Nanoseconds()))
		b.mu.Lock()
		b.lastProcessedAt = time.Now().UTC()
		b.mu.Unlock()
	} else {
		atomic.AddUint64(&b.totalErrors, 1)
	}
	return err
}

func (b *Base) dispatchOnce(ctx context.Context, change executor.Update, qcfg QueryConfig) error {
	switch change.Type {
	case executor.Added:
		if b.onAdded == nil || change.After == nil {
			return nil
		}
		if err := b.onAdded(ctx, *change.After, change.QueryID, qcfg); err != nil {
			return err
		}
		atomic.AddUint64(&b.added, 1)
		return nil
	case executor.Updated:
		if change.After == nil {
			return nil
		}
		var err error
		if b.onUpdated != nil {
			var before executor.Result
			if change.Before != nil {
				before = *change.Before
			}
			err = b.onUpdated(ctx, before, *change.After, change.QueryID, qcfg)
		} else if b.onAdded != nil {
			err = b.onAdded(ctx, *change.After, change.QueryID, qcfg)
		}
		if err != nil {
			return err
		}
		atomic.AddUint64(&b.updated, 1)
		return nil
	case executor.Removed:
		if b.onDeleted == nil || change.Before == nil {
			return nil
		}
		if err := b.onDeleted(ctx, *change.Before, change.QueryID, qcfg); err != nil {
			return err
		}
		atomic.AddUint64(&b.deleted, 1)
		return nil
	default:
		return nil
	}
}

// runWithRetry implements spec.md §4.5's retry policy: if disabled, no
// retries; otherwise up to MaxAttempts retries with exponential backoff,
// gated on the error's ReactionErrorKind being retryable.
func (b *Base) runWithRetry(ctx context.Context, change executor.Update, attempt func(ctx context.Context) error) error {
	retry := b.cfg.Retry

	err := attempt(ctx)
	if err == nil {
		return nil
	}
	b.onError(change, err)

	if !retry.Enabled {
		return err
	}

	for i := 1; i <= retry.MaxAttempts; i++ {
		kind := rudderr.GetReactionErrorKind(err)
		if !retry.IsRetryable(kind) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.BackoffDelay(i)):
		}

		err = attempt(ctx)
		if err == nil {
			return nil
		}
		b.onError(change, err)
	}
	return err
}

// Health implements spec.md §4.5's health policy.
func (b *Base) Health() Health {
	if !b.IsRunning() {
		return Health{Healthy: false, Status: "STOPPED", Message: "reaction is not running"}
	}

	total := atomic.LoadUint64(&b.totalProcessed)
	errs := atomic.LoadUint64(&b.totalErrors)
	if total > 100 && float64(errs) > 0.10*float64(total) {
		return Health{
			Healthy: false,
			Status:  "UNHEALTHY",
			Message: "lifetime errors exceed 10% of processed changes (over 100 processed)",
		}
	}
	return Health{Healthy: true, Status: "HEALTHY"}
}

// Stats returns a snapshot of this reaction's lifetime counters.
func (b *Base) Stats() Stats {
	total := atomic.LoadUint64(&b.totalProcessed)
	var avg float64
	if total > 0 {
		avg = float64(atomic.LoadUint64(&b.processingNanos)) / float64(total) / float64(time.Millisecond)
	}
	b.mu.Lock()
	last := b.lastProcessedAt
	b.mu.Unlock()

	return Stats{
		TotalProcessed:  total,
		TotalErrors:     atomic.LoadUint64(&b.totalErrors),
		Added:           atomic.LoadUint64(&b.added),
		Updated:         atomic.LoadUint64(&b.updated),
		Deleted:         atomic.LoadUint64(&b.deleted),
		AvgProcessingMs: avg,
		LastProcessedAt: last,
	}
}

var _ Reaction = (*Base)(nil)
