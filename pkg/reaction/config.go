package reaction

import "time"

import "github.com/flowbase/rudder/pkg/rudderr"

// ExecutionMode selects how a dispatcher drives a reaction's invocations.
type ExecutionMode string

const (
	Sync  ExecutionMode = "SYNC"
	Async ExecutionMode = "ASYNC"
	Batch ExecutionMode = "BATCH"
)

// ExecutionConfig controls dispatch concurrency, batching, and throttling
// for one reaction, per spec.md §3.
type ExecutionConfig struct {
	Mode            ExecutionMode
	BatchSize       int
	BatchWindowMs   int
	ThrottleRateMs  int
	MaxConcurrency  int
}

// DefaultExecutionConfig returns spec.md §3's documented defaults:
// {ASYNC, 100, 1000ms, 0, 10}.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Mode:           Async,
		BatchSize:      100,
		BatchWindowMs:  1000,
		ThrottleRateMs: 0,
		MaxConcurrency: 10,
	}
}

// Validate normalizes zero-valued fields to their defaults, following the
// teacher's Config/DefaultConfig/Validate idiom (see
// infrastructure/resilience.DefaultConfig).
func (c ExecutionConfig) Validate() ExecutionConfig {
	d := DefaultExecutionConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchWindowMs <= 0 {
		c.BatchWindowMs = d.BatchWindowMs
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	return c
}

// RetryConfig controls the exponential-backoff retry policy, per
// spec.md §3 and §4.5.
type RetryConfig struct {
	Enabled             bool
	MaxAttempts         int
	InitialBackoffMs    int
	MaxBackoffMs        int
	BackoffMultiplier   float64
	RetryableErrorKinds []rudderr.ReactionErrorKind
}

// DefaultRetryConfig returns spec.md §3's documented defaults:
// {true, 3, 1000, 30000, 2.0, {IO, Timeout}}.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:           true,
		MaxAttempts:       3,
		InitialBackoffMs:  1000,
		MaxBackoffMs:      30000,
		BackoffMultiplier: 2.0,
		RetryableErrorKinds: []rudderr.ReactionErrorKind{
			rudderr.ReactionErrIO,
			rudderr.ReactionErrTimeout,
		},
	}
}

// Validate normalizes zero-valued numeric and list fields to their
// defaults. Enabled is kept as given, so a zero-value RetryConfig has
// retry disabled.
func (c RetryConfig) Validate() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoffMs <= 0 {
		c.InitialBackoffMs = d.InitialBackoffMs
	}
	if c.MaxBackoffMs <= 0 {
		c.MaxBackoffMs = d.MaxBackoffMs
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if len(c.RetryableErrorKinds) == 0 {
		c.RetryableErrorKinds = d.RetryableErrorKinds
	}
	return c
}

// IsRetryable reports whether kind is in RetryableErrorKinds.
func (c RetryConfig) IsRetryable(kind rudderr.ReactionErrorKind) bool {
	for _, k := range c.RetryableErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// BackoffDelay returns the wait duration before retry attempt i (1-based),
// per spec.md §4.5: min(initialBackoff * multiplier^(i-1), maxBackoff).
func (c RetryConfig) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialBackoffMs)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffMultiplier
	}
	max := float64(c.MaxBackoffMs)
	if delay > max {
		delay = max
	}
	return time.Duration(delay) * time.Millisecond
}

// QueryConfig is a per-query sub-configuration a reaction may hold,
// looked up by query id when processing a change (spec.md §4.5 step 1).
// It is opaque to the core; concrete reactions interpret it.
type QueryConfig map[string]interface{}

// Config is the declarative Reaction Config of spec.md §3.
type Config struct {
	ID         string
	Name       string
	Kind       string
	QueryIDs   []string
	Properties map[string]interface{}
	Execution  ExecutionConfig
	Retry      RetryConfig
	// QueryConfigs maps a query id to its reaction-specific sub-config.
	QueryConfigs map[string]QueryConfig
}

// Validate normalizes Execution and Retry to their defaults.
func (c Config) Validate() Config {
	c.Execution = c.Execution.Validate()
	c.Retry = c.Retry.Validate()
	return c
}
