package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StepResult is the type-erased result of a step's action. A saga may
// chain steps of different result types, so the Context stores them
// uniformly; typed access goes through the generic constructors, which
// assert the concrete type back before invoking a compensation.
type StepResult interface{}

// Step is the building block of a saga: a forward action producing a
// result, and a compensation that undoes that action given the result.
//
// A Step is immutable value data owned by the caller. The Coordinator
// only reads it during one execution and never retains it afterward.
// Compensations must be idempotent and must not require the original
// input, only the result.
type Step interface {
	// Name identifies the step within one saga run. It appears in
	// events and results. It does not need to be globally unique.
	Name() string

	// Timeout is the wall-clock bound for the action only.
	// Zero means no per-step bound.
	Timeout() time.Duration

	// Action performs the forward work.
	Action(ctx context.Context) (StepResult, error)

	// Compensate undoes a successful Action given its result.
	Compensate(ctx context.Context, result StepResult) error
}

// ActionFunc is the typed forward action of a StepFunc.
type ActionFunc[R any] func(ctx context.Context) (R, error)

// CompensateFunc is the typed compensation of a StepFunc.
type CompensateFunc[R any] func(ctx context.Context, result R) error

// StepFunc is a Step implemented by an ordinary function pair. The
// result type R is erased at the Step boundary and recovered by
// assertion when the compensation runs.
type StepFunc[R any] struct {
	name       string
	timeout    time.Duration
	action     ActionFunc[R]
	compensate CompensateFunc[R]
}

// StepOption configures a StepFunc.
type StepOption func(*stepOptions)

type stepOptions struct {
	timeout time.Duration
}

// WithStepTimeout bounds the step's action. Expiry is treated as an
// action failure; the underlying operation is not forcibly cancelled.
func WithStepTimeout(d time.Duration) StepOption {
	return func(o *stepOptions) {
		o.timeout = d
	}
}

// NewStep constructs a Step from a typed action/compensation pair.
func NewStep[R any](name string, action ActionFunc[R], compensate CompensateFunc[R], opts ...StepOption) *StepFunc[R] {
	var o stepOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &StepFunc[R]{
		name:       name,
		timeout:    o.timeout,
		action:     action,
		compensate: compensate,
	}
}

// NoOpCompensate is a compensation that does nothing, for steps whose
// effects need no undoing.
func NoOpCompensate[R any](_ context.Context, _ R) error {
	return nil
}

// NewStepWithNoOpCompensate constructs a Step whose compensation is a no-op.
func NewStepWithNoOpCompensate[R any](name string, action ActionFunc[R], opts ...StepOption) *StepFunc[R] {
	return NewStep(name, action, NoOpCompensate[R], opts...)
}

// Name implements the Step interface for StepFunc.
func (s *StepFunc[R]) Name() string {
	return s.name
}

// Timeout implements the Step interface for StepFunc.
func (s *StepFunc[R]) Timeout() time.Duration {
	return s.timeout
}

// Action implements the Step interface for StepFunc.
func (s *StepFunc[R]) Action(ctx context.Context) (StepResult, error) {
	result, err := s.action(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Compensate implements the Step interface for StepFunc. The stored
// result is asserted back to R before the typed compensation runs. A
// result recorded as json.RawMessage (reloaded from a StateStore
// snapshot) is unmarshaled into R first.
func (s *StepFunc[R]) Compensate(ctx context.Context, result StepResult) error {
	if s.compensate == nil {
		return nil
	}
	if result == nil {
		var zero R
		return s.compensate(ctx, zero)
	}
	if typed, ok := result.(R); ok {
		return s.compensate(ctx, typed)
	}
	if raw, ok := result.(json.RawMessage); ok {
		var typed R
		if err := json.Unmarshal(raw, &typed); err != nil {
			return fmt.Errorf("step %q: decode recorded result: %w", s.name, err)
		}
		return s.compensate(ctx, typed)
	}
	var zero R
	return fmt.Errorf("step %q: compensation expected result of type %T, got %T", s.name, zero, result)
}

// String implements the fmt.Stringer interface for StepFunc.
func (s *StepFunc[R]) String() string {
	return fmt.Sprintf("StepFunc[%T](%s)", s, s.name)
}
