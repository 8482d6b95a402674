package reaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowbase/rudder/pkg/executor"
	"github.com/flowbase/rudder/pkg/rudderr"
)

func result(queryID, entityID string) executor.Result {
	return executor.Result{
		ResultID: executor.ResultID(queryID, "order", entityID),
		QueryID:  queryID,
		Data:     map[string]interface{}{"id": entityID},
		Metadata: executor.ResultMetadata{EntityType: "order", EntityID: entityID},
	}
}

func TestBase_DispatchAdded(t *testing.T) {
	var got executor.Result
	b := NewBase(Config{ID: "r1", Kind: "test"}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		got = after
		return nil
	}))
	b.Start(context.Background())

	r := result("q1", "e1")
	err := b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ResultID != r.ResultID {
		t.Errorf("onAdded not invoked with expected result")
	}
	if b.Stats().Added != 1 {
		t.Errorf("expected Added stat = 1, got %d", b.Stats().Added)
	}
}

func TestBase_UpdatedDelegatesToAddedWhenUnset(t *testing.T) {
	var calls int
	b := NewBase(Config{ID: "r1", Kind: "test"}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		calls++
		return nil
	}))
	b.Start(context.Background())

	r := result("q1", "e1")
	before := result("q1", "e1")
	err := b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Updated, Before: &before, After: &r})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected onAdded fallback to be called once, got %d", calls)
	}
	if b.Stats().Updated != 1 {
		t.Errorf("expected Updated stat = 1, got %d", b.Stats().Updated)
	}
}

func TestBase_UpdatedUsesOverrideWhenSet(t *testing.T) {
	var usedOverride, usedAdded bool
	b := NewBase(Config{ID: "r1", Kind: "test"},
		WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
			usedAdded = true
			return nil
		}),
		WithOnUpdated(func(ctx context.Context, before, after executor.Result, queryID string, qcfg QueryConfig) error {
			usedOverride = true
			return nil
		}),
	)
	b.Start(context.Background())

	r := result("q1", "e1")
	before := result("q1", "e1")
	b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Updated, Before: &before, After: &r})

	if !usedOverride || usedAdded {
		t.Errorf("expected onUpdated override to be used instead of onAdded")
	}
}

func TestBase_RemovedDefaultsToNoop(t *testing.T) {
	b := NewBase(Config{ID: "r1", Kind: "test"})
	b.Start(context.Background())

	before := result("q1", "e1")
	err := b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Removed, Before: &before})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Stats().Deleted != 0 {
		t.Errorf("expected no-op REMOVED to not increment Deleted stat")
	}
}

func TestBase_RemovedInvokesOnDeleted(t *testing.T) {
	var got executor.Result
	b := NewBase(Config{ID: "r1", Kind: "test"}, WithOnDeleted(func(ctx context.Context, before executor.Result, queryID string, qcfg QueryConfig) error {
		got = before
		return nil
	}))
	b.Start(context.Background())

	before := result("q1", "e1")
	b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Removed, Before: &before})

	if got.ResultID != before.ResultID {
		t.Errorf("onDeleted not invoked with expected result")
	}
	if b.Stats().Deleted != 1 {
		t.Errorf("expected Deleted stat = 1, got %d", b.Stats().Deleted)
	}
}

func TestBase_RetriesRetryableErrorsThenSucceeds(t *testing.T) {
	var attempts int
	b := NewBase(Config{
		ID:   "r1",
		Kind: "test",
		Retry: RetryConfig{
			Enabled:           true,
			MaxAttempts:       3,
			InitialBackoffMs:  1,
			MaxBackoffMs:      5,
			BackoffMultiplier: 2,
			RetryableErrorKinds: []rudderr.ReactionErrorKind{
				rudderr.ReactionErrIO,
			},
		},
	}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		attempts++
		if attempts < 3 {
			return rudderr.NewReactionError(rudderr.ReactionErrIO, errors.New("transient failure"))
		}
		return nil
	}))
	b.Start(context.Background())

	r := result("q1", "e1")
	err := b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestBase_NonRetryableErrorFailsImmediately(t *testing.T) {
	var attempts int
	b := NewBase(Config{ID: "r1", Kind: "test"}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		attempts++
		return rudderr.NewReactionError(rudderr.ReactionErrValidation, errors.New("bad input"))
	}))
	b.Start(context.Background())

	r := result("q1", "e1")
	err := b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
	if b.Stats().TotalErrors != 1 {
		t.Errorf("expected TotalErrors = 1, got %d", b.Stats().TotalErrors)
	}
}

func TestBase_RetryDisabledFailsImmediately(t *testing.T) {
	var attempts int
	b := NewBase(Config{ID: "r1", Kind: "test", Retry: RetryConfig{Enabled: false}}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		attempts++
		return rudderr.NewReactionError(rudderr.ReactionErrIO, errors.New("fail"))
	}))
	b.Start(context.Background())

	r := result("q1", "e1")
	b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt with retry disabled, got %d", attempts)
	}
}

func TestBase_HealthStopped(t *testing.T) {
	b := NewBase(Config{ID: "r1", Kind: "test"})
	h := b.Health()
	if h.Healthy || h.Status != "STOPPED" {
		t.Errorf("expected STOPPED health before Start, got %+v", h)
	}
}

func TestBase_HealthHealthyUnderErrorThreshold(t *testing.T) {
	b := NewBase(Config{ID: "r1", Kind: "test", Retry: RetryConfig{Enabled: false}}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		return nil
	}))
	b.Start(context.Background())

	for i := 0; i < 150; i++ {
		r := result("q1", "e1")
		b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	}

	if h := b.Health(); !h.Healthy {
		t.Errorf("expected healthy, got %+v", h)
	}
}

func TestBase_HealthUnhealthyOverErrorThreshold(t *testing.T) {
	var fail bool
	b := NewBase(Config{ID: "r1", Kind: "test", Retry: RetryConfig{Enabled: false}}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		if fail {
			return rudderr.NewReactionError(rudderr.ReactionErrValidation, errors.New("fail"))
		}
		return nil
	}))
	b.Start(context.Background())

	// 130 calls: 26 fail, 104 succeed, so totalProcessed (successes only)
	// passes 100 and 26 errors exceed 10% of it.
	for i := 0; i < 130; i++ {
		fail = i%5 == 0 // ~20% error rate, over the 10% threshold
		r := result("q1", "e1")
		b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	}

	if h := b.Health(); h.Healthy || h.Status != "UNHEALTHY" {
		t.Errorf("expected UNHEALTHY, got %+v", h)
	}
}

func TestBase_StatsConcurrencySafe(t *testing.T) {
	b := NewBase(Config{ID: "r1", Kind: "test"}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		return nil
	}))
	b.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := result("q1", "e1")
			b.ProcessChange(context.Background(), executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
		}()
	}
	wg.Wait()

	if b.Stats().TotalProcessed != 50 {
		t.Errorf("expected 50 processed, got %d", b.Stats().TotalProcessed)
	}
}

func TestBase_RespectsContextCancellationDuringBackoff(t *testing.T) {
	b := NewBase(Config{
		ID:   "r1",
		Kind: "test",
		Retry: RetryConfig{
			Enabled:           true,
			MaxAttempts:       3,
			InitialBackoffMs:  100,
			MaxBackoffMs:      1000,
			BackoffMultiplier: 2,
			RetryableErrorKinds: []rudderr.ReactionErrorKind{
				rudderr.ReactionErrIO,
			},
		},
	}, WithOnAdded(func(ctx context.Context, after executor.Result, queryID string, qcfg QueryConfig) error {
		return rudderr.NewReactionError(rudderr.ReactionErrIO, errors.New("fail"))
	}))
	b.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	r := result("q1", "e1")
	err := b.ProcessChange(ctx, executor.Update{QueryID: "q1", Type: executor.Added, After: &r})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
