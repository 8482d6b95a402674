// Package rudderr defines the error-kind taxonomy the engine uses across
// its lifecycle, query evaluation, and reaction dispatch paths. It follows
// the same shape as the teacher's infrastructure/errors package: a single
// structured error type keyed by a stable Kind, with an optional wrapped
// cause and a details map for multi-message validation failures.
package rudderr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of engine error.
type Kind string

const (
	// InvalidState is a lifecycle violation, e.g. starting an already
	// running engine.
	InvalidState Kind = "INVALID_STATE"
	// InvalidKind means no reaction provider is registered for a
	// requested kind.
	InvalidKind Kind = "INVALID_KIND"
	// InvalidConfig means a provider rejected a reaction config; Details
	// carries the validation messages under the "errors" key.
	InvalidConfig Kind = "INVALID_CONFIG"
	// SourceError is a terminal failure surfaced by a Source's stream.
	SourceError Kind = "SOURCE_ERROR"
	// QueryEvaluationError is a per-event failure in a query executor; it
	// is logged and does not poison the stream.
	QueryEvaluationError Kind = "QUERY_EVALUATION_ERROR"
	// ReactionError is a failure in a reaction's side effect. Use
	// ReactionErrorKind to distinguish retryable sub-kinds.
	ReactionError Kind = "REACTION_ERROR"
)

// ReactionErrorKind further classifies a ReactionError for the retry
// policy in pkg/reaction. Only IO and Timeout are retryable by default,
// per spec.
type ReactionErrorKind string

const (
	ReactionErrIO         ReactionErrorKind = "IO"
	ReactionErrTimeout    ReactionErrorKind = "TIMEOUT"
	ReactionErrValidation ReactionErrorKind = "VALIDATION"
	ReactionErrUnknown    ReactionErrorKind = "UNKNOWN"
)

// Error is the engine's structured error type.
type Error struct {
	Kind    Kind
	Message string
	// ReactionKind is set only when Kind == ReactionError.
	ReactionKind ReactionErrorKind
	Details      map[string]interface{}
	Err          error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail key/value and returns the error for
// chaining, matching ServiceError.WithDetails.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a plain Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewInvalidState reports a lifecycle violation.
func NewInvalidState(message string) *Error {
	return New(InvalidState, message)
}

// NewInvalidKind reports that no provider is registered for kind.
func NewInvalidKind(kind string) *Error {
	return New(InvalidKind, "no reaction provider registered").WithDetails("kind", kind)
}

// NewInvalidConfig reports provider validation failure with the list of
// human-readable messages the provider returned.
func NewInvalidConfig(messages []string) *Error {
	return New(InvalidConfig, "reaction config failed validation").WithDetails("errors", messages)
}

// NewSourceError wraps a terminal source streaming failure.
func NewSourceError(sourceID string, err error) *Error {
	return Wrap(SourceError, "source stream failed", err).WithDetails("source_id", sourceID)
}

// NewQueryEvaluationError wraps a per-event executor failure.
func NewQueryEvaluationError(queryID string, err error) *Error {
	return Wrap(QueryEvaluationError, "query evaluation failed", err).WithDetails("query_id", queryID)
}

// NewReactionError wraps a reaction side-effect failure, classified by
// reactionKind for the retry policy.
func NewReactionError(reactionKind ReactionErrorKind, err error) *Error {
	return &Error{
		Kind:         ReactionError,
		Message:      "reaction processing failed",
		ReactionKind: reactionKind,
		Err:          err,
	}
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// GetReactionErrorKind extracts the ReactionErrorKind from err, defaulting
// to ReactionErrUnknown if err is not a *Error or is not a ReactionError.
func GetReactionErrorKind(err error) ReactionErrorKind {
	e, ok := As(err)
	if !ok || e.Kind != ReactionError {
		return ReactionErrUnknown
	}
	if e.ReactionKind == "" {
		return ReactionErrUnknown
	}
	return e.ReactionKind
}
