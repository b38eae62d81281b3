package saga

import (
	"context"
	"time"
)

// ReduceFunc folds a sub-saga's ordered step results into the nested
// step's single result.
type ReduceFunc[R any] func(results []StepResult) (R, error)

// nestedStep is a Step whose action runs a complete sub-saga. If any
// sub-step fails, the sub-saga compensates itself fully before the
// failure surfaces to the parent, so the parent never observes a
// partially succeeded nested step. Sub-step compensations therefore
// always complete before the parent begins compensating the steps that
// preceded the nested one.
type nestedStep[R any] struct {
	name     string
	timeout  time.Duration
	substeps []Step
	reduce   ReduceFunc[R]
	cleanup  CompensateFunc[R]
}

// NewNestedStep constructs a Step that executes substeps as an
// independent sub-saga. On sub-saga success the results are folded
// into a single R via reduce. The optional cleanup is the nested
// step's own compensation, invoked by the parent during parent-level
// rollback, after the sub-saga has already rolled itself back.
//
// A sub-saga failure surfaces as a *NestedSagaError wrapping the
// triggering error; the parent coordinator treats it exactly like any
// other step failure.
func NewNestedStep[R any](name string, substeps []Step, reduce ReduceFunc[R], cleanup CompensateFunc[R], opts ...StepOption) Step {
	var o stepOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &nestedStep[R]{
		name:     name,
		timeout:  o.timeout,
		substeps: substeps,
		reduce:   reduce,
		cleanup:  cleanup,
	}
}

// Name implements the Step interface for nestedStep.
func (s *nestedStep[R]) Name() string {
	return s.name
}

// Timeout implements the Step interface for nestedStep.
func (s *nestedStep[R]) Timeout() time.Duration {
	return s.timeout
}

// Action runs the sub-saga on a fresh, independent Coordinator and
// reduces its results.
func (s *nestedStep[R]) Action(ctx context.Context) (StepResult, error) {
	sub := New()
	defer sub.Dispose()

	result, err := sub.Execute(ctx, s.substeps)
	if err != nil {
		// Execute on a fresh coordinator only errors on usage bugs.
		return nil, err
	}

	success, ok := result.(*Success)
	if !ok {
		// Internal compensations have already run. An inner
		// PartialFailure's compensation errors stay reachable through
		// the Inner field for callers that need them.
		return nil, &NestedSagaError{
			StepName: s.name,
			Inner:    result,
			Err:      TriggeringError(result),
		}
	}

	reduced, err := s.reduce(success.Results)
	if err != nil {
		return nil, err
	}
	return reduced, nil
}

// Compensate runs the nested step's additional cleanup, if any. The
// sub-saga's own compensations only run on its failure path; on the
// success path this cleanup is all the parent has to undo the reduced
// result.
func (s *nestedStep[R]) Compensate(ctx context.Context, result StepResult) error {
	if s.cleanup == nil {
		return nil
	}
	return (&StepFunc[R]{name: s.name, compensate: s.cleanup}).Compensate(ctx, result)
}
