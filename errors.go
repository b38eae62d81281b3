package saga

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisposed is returned when a Coordinator is used after Dispose.
// This is a programming-contract violation, not a saga-domain failure:
// it never produces a Result.
var ErrDisposed = errors.New("saga: coordinator is disposed")

// ErrContextTerminal is returned when a Context is mutated after it
// has transitioned to a terminal state.
var ErrContextTerminal = errors.New("saga: context is no longer active")

// ErrEmptyPlan is returned by Plan.Build when no steps were added.
var ErrEmptyPlan = errors.New("saga: plan has no steps")

// StepTimeoutError reports that a step's action exceeded its wall-clock
// bound. The underlying operation is not forcibly cancelled; only the
// coordinator's waiting is abandoned.
type StepTimeoutError struct {
	StepName string
	Timeout  time.Duration
}

// Error implements the error interface for StepTimeoutError.
func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.StepName, e.Timeout)
}

// CompensationError records a single failed compensation during
// rollback: the step whose compensation failed, the error, and the
// stack trace captured at the failure site when available.
type CompensationError struct {
	StepName string
	Err      error
	Stack    string
}

// Error implements the error interface for CompensationError.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %q failed: %v", e.StepName, e.Err)
}

// Unwrap exposes the underlying compensation error.
func (e *CompensationError) Unwrap() error {
	return e.Err
}

// NestedSagaError surfaces a sub-saga failure as the nested step's own
// action failure. The sub-saga's internal compensations have already
// completed by the time this error reaches the parent coordinator.
//
// The parent treats this like any other action failure. Callers that
// need full fidelity can recover the inner Result (including any
// compensation errors from an inner PartialFailure) via errors.As.
type NestedSagaError struct {
	StepName string
	Inner    Result
	Err      error
}

// Error implements the error interface for NestedSagaError.
func (e *NestedSagaError) Error() string {
	return fmt.Sprintf("nested saga %q failed: %v", e.StepName, e.Err)
}

// Unwrap exposes the sub-saga's triggering error.
func (e *NestedSagaError) Unwrap() error {
	return e.Err
}
