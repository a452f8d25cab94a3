package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers branch with errors.Is.
var (
	// ErrRoutingDegraded marks a routing decision that fell back to the
	// default model because no candidate satisfied the capability
	// requirements. Non-fatal; routing never fails outright.
	ErrRoutingDegraded = errors.New("routing degraded: no model satisfies requirements")

	// ErrDelegateUnavailable means a named specialist is not registered. It is
	// surfaced to the owning agent as a tool-result error, not a hard failure.
	ErrDelegateUnavailable = errors.New("delegation target not registered")

	// ErrConfirmationTimeout means the human did not respond within the
	// registry timeout; the request is resolved as rejected.
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	// ErrConfirmationNotFound means a resolve referenced an unknown or
	// already-resolved confirmation id.
	ErrConfirmationNotFound = errors.New("confirmation not found")

	// ErrStreamClosed means the outbound stream is gone (client disconnect or
	// finished execution); the execution aborts without retry.
	ErrStreamClosed = errors.New("event stream closed")

	// ErrExecutionNotFound is returned when cancelling an unknown or already
	// finished execution.
	ErrExecutionNotFound = errors.New("execution not found")
)

// ProviderError wraps a failure from a model provider call, remembering which
// model was being driven so the fallback retry can report accurately.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a ProviderError for model.
func NewProviderError(model string, err error) *ProviderError {
	return &ProviderError{Model: model, Err: err}
}
