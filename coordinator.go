package saga

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultEventBuffer is the per-subscriber event channel capacity.
const defaultEventBuffer = 256

// ErrRollback is the triggering error recorded when a rollback is
// requested manually rather than caused by a step failure.
var ErrRollback = errors.New("saga: manual rollback requested")

// Coordinator executes sagas: ordered lists of Steps run strictly
// sequentially, with reverse-order best-effort compensation on the
// first failure. A Coordinator holds no cross-execution mutable state
// beyond the shared event stream and its disposed flag, so independent
// sagas may run concurrently against the same instance.
type Coordinator struct {
	timeout  time.Duration
	logger   *zap.Logger
	store    StateStore
	bus      *eventBus
	disposed atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds the whole execution. On expiry no further steps
// begin; the in-flight step is treated as failed and completed steps
// are compensated. Underlying I/O is not forcibly cancelled.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithStateStore enables durable snapshotting: a State is written at
// each saga and step status transition. Persistence failures are
// logged and never abort the saga.
func WithStateStore(store StateStore) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithEventBuffer sets the per-subscriber event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.bus = newEventBus(n)
		}
	}
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger: zap.NewNop(),
		bus:    newEventBus(defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an event consumer. The returned cancel function
// releases the subscription. After Dispose the returned channel is
// already closed.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.bus.subscribe()
}

// Dispose closes the event stream. All subsequent Execute and Begin
// calls fail fast with ErrDisposed. Idempotent.
func (c *Coordinator) Dispose() {
	if c.disposed.CompareAndSwap(false, true) {
		c.bus.close()
	}
}

// Execute runs the steps in order. An empty list yields a Success with
// an empty result list. The only non-nil error is ErrDisposed; every
// saga-domain outcome, including failures, is reported in the Result.
//
// SagaID is generated when not supplied.
func (c *Coordinator) Execute(ctx context.Context, steps []Step, sagaID ...string) (Result, error) {
	run, err := c.Begin(ctx, sagaID...)
	if err != nil {
		return nil, err
	}
	run.declare(steps)

	for _, step := range steps {
		if _, err := run.RunStep(step); err != nil {
			return run.Fail(step.Name(), err)
		}
	}
	return run.Succeed()
}

// Rollback re-drives compensation for a saga reloaded from a
// StateStore snapshot, for example after a crash left it incomplete.
// The live step definitions supply the compensation functions; the
// snapshot supplies each step's recorded result. Completed steps are
// compensated in reverse order with the same best-effort sweep as a
// normal failure, and the outcome is a Failure (clean sweep) or
// PartialFailure whose triggering error is ErrRollback.
func (c *Coordinator) Rollback(ctx context.Context, state *State, steps []Step) (Result, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}
	if state == nil {
		return nil, errors.New("saga: nil state")
	}

	byName := make(map[string]Step, len(steps))
	for _, step := range steps {
		byName[step.Name()] = step
	}

	tracker := newStateTracker(ctx, c.store, c.logger, state)
	tracker.setSagaStatus(StatusCompensating)

	var executed []executedStep
	for _, ss := range state.Steps {
		if ss.Status != StepStatusCompleted {
			continue
		}
		step, ok := byName[ss.Name]
		if !ok {
			return nil, fmt.Errorf("saga: no step definition for completed step %q", ss.Name)
		}
		// Recorded results round-trip through JSON; StepFunc.Compensate
		// unmarshals a json.RawMessage back to its typed result.
		var result StepResult
		if raw, found := state.Results[ss.Name]; found {
			result = raw
		}
		executed = append(executed, executedStep{step: step, result: result})
	}

	compensated, compErrs := c.compensateAll(ctx, state.SagaID, executed, tracker)

	if len(compErrs) > 0 {
		tracker.setSagaFailure(StatusPartiallyFailed, "", ErrRollback)
		return &PartialFailure{
			ID:                 state.SagaID,
			Err:                ErrRollback,
			CompensationErrors: compErrs,
		}, nil
	}
	tracker.setSagaFailure(StatusFailed, "", ErrRollback)
	return &Failure{
		ID:               state.SagaID,
		Err:              ErrRollback,
		CompensatedSteps: compensated,
	}, nil
}

// emit publishes an event and logs it.
func (c *Coordinator) emit(e Event) {
	e.Timestamp = time.Now()
	c.bus.publish(e)

	fields := []zap.Field{zap.String("saga_id", e.SagaID)}
	if e.StepName != "" {
		fields = append(fields, zap.String("step", e.StepName))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.IsFailure() {
		c.logger.Warn(e.Type.String(), fields...)
	} else {
		c.logger.Debug(e.Type.String(), fields...)
	}
}

// newSagaID returns the supplied ID or generates one.
func newSagaID(sagaID []string) string {
	if len(sagaID) > 0 && sagaID[0] != "" {
		return sagaID[0]
	}
	return uuid.NewString()
}

// executedStep pairs a completed step with its stored result for the
// compensation phase.
type executedStep struct {
	step   Step
	result StepResult
}

// runAction invokes a step's action bounded by the earlier of the
// per-step timeout and the overall saga deadline. Expiry abandons the
// coordinator's waiting without forcibly cancelling the underlying
// operation; the derived context gives cooperative implementations a
// chance to stop early. Panics in the action are reported as errors so
// completed steps still get compensated.
func (c *Coordinator) runAction(ctx context.Context, step Step, deadline time.Time) (StepResult, error) {
	actx := ctx
	cancel := context.CancelFunc(func() {})

	bound := step.Timeout()
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &StepTimeoutError{StepName: step.Name(), Timeout: c.timeout}
		}
		if bound == 0 || remaining < bound {
			bound = remaining
		}
	}
	if bound > 0 {
		actx, cancel = context.WithTimeout(ctx, bound)
	}
	defer cancel()

	type outcome struct {
		result StepResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("step %q panicked: %v", step.Name(), r)}
			}
		}()
		result, err := step.Action(actx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && bound > 0 && errors.Is(out.err, context.DeadlineExceeded) {
			// The action observed the expired deadline itself; report it
			// uniformly as a step timeout.
			return nil, &StepTimeoutError{StepName: step.Name(), Timeout: bound}
		}
		return out.result, out.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, &StepTimeoutError{StepName: step.Name(), Timeout: bound}
		}
		return nil, actx.Err()
	}
}

// compensateAll walks the executed steps in reverse order, invoking
// each compensation with its stored result. A failed compensation is
// recorded and the sweep continues with the remaining earlier steps:
// rollback is best-effort and total, never aborted midway.
func (c *Coordinator) compensateAll(ctx context.Context, sagaID string, executed []executedStep, tracker *stateTracker) ([]string, []CompensationError) {
	var compensated []string
	var compErrs []CompensationError

	for i := len(executed) - 1; i >= 0; i-- {
		es := executed[i]
		name := es.step.Name()

		c.emit(Event{Type: EventCompensationStarted, SagaID: sagaID, StepName: name})
		tracker.setStepStatus(name, StepStatusCompensating, nil)

		start := time.Now()
		err := es.step.Compensate(ctx, es.result)
		elapsed := time.Since(start)

		if err != nil {
			c.emit(Event{Type: EventCompensationFailed, SagaID: sagaID, StepName: name, Err: err})
			tracker.setStepStatus(name, StepStatusFailed, err)
			compErrs = append(compErrs, CompensationError{
				StepName: name,
				Err:      err,
				Stack:    captureStack(),
			})
			continue
		}

		c.emit(Event{Type: EventCompensationCompleted, SagaID: sagaID, StepName: name, Duration: elapsed})
		tracker.setStepStatus(name, StepStatusCompensated, nil)
		compensated = append(compensated, name)
	}
	return compensated, compErrs
}
