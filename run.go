package saga

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run is one saga execution driven incrementally: steps are supplied
// one at a time rather than as an upfront list. This is the substrate
// for the store-aware transaction facade, where steps materialize as a
// user-authored block reaches each call. Batch Execute is built on the
// same mode.
//
// A Run is owned by a single goroutine; it is not safe for concurrent
// use, matching the strictly sequential execution discipline.
type Run struct {
	c        *Coordinator
	ctx      context.Context
	sctx     *Context
	tracker  *stateTracker
	executed []executedStep
	deadline time.Time
	index    int
	finished bool
}

// Begin starts a new incremental execution. The saga ID is generated
// when not supplied. Fails fast with ErrDisposed after Dispose.
func (c *Coordinator) Begin(ctx context.Context, sagaID ...string) (*Run, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}

	id := newSagaID(sagaID)
	run := &Run{
		c:       c,
		ctx:     ctx,
		sctx:    NewContext(id),
		tracker: newStateTracker(ctx, c.store, c.logger, newSagaState(id)),
	}
	if c.timeout > 0 {
		run.deadline = time.Now().Add(c.timeout)
	}

	run.tracker.setSagaStatus(StatusExecuting)
	c.emit(Event{Type: EventSagaStarted, SagaID: id})
	return run, nil
}

// Context exposes the execution tracker, giving callers after-the-fact
// introspection into what the saga actually did.
func (r *Run) Context() *Context {
	return r.sctx
}

// declare pre-registers the full step list in the snapshot, for batch
// executions where the plan is known upfront.
func (r *Run) declare(steps []Step) {
	for _, step := range steps {
		r.tracker.declareStep(step.Name())
	}
	r.tracker.persist()
}

// RunStep executes exactly one step to completion and appends it to
// the shared Context. The returned error is the step's action failure
// (or timeout); the caller decides whether to continue, Fail, or
// Succeed. After the Run has finished, RunStep returns
// ErrContextTerminal.
func (r *Run) RunStep(step Step) (StepResult, error) {
	if r.finished {
		return nil, ErrContextTerminal
	}

	name := step.Name()
	r.c.emit(Event{Type: EventStepStarted, SagaID: r.sctx.ID(), StepName: name})
	r.tracker.setStepStatus(name, StepStatusExecuting, nil)

	start := time.Now()
	result, err := r.c.runAction(r.ctx, step, r.deadline)
	elapsed := time.Since(start)

	if err != nil {
		r.c.emit(Event{Type: EventStepFailed, SagaID: r.sctx.ID(), StepName: name, Err: err, Duration: elapsed})
		r.tracker.setStepStatus(name, StepStatusFailed, err)
		return nil, err
	}

	if addErr := r.sctx.AddCompletedStep(name, result); addErr != nil {
		// Terminal context here means a coordinator bug; surface it as
		// the step's failure so rollback still runs.
		r.c.logger.Error("context rejected completed step",
			zap.String("saga_id", r.sctx.ID()),
			zap.String("step", name),
			zap.Error(addErr))
		return nil, addErr
	}
	r.executed = append(r.executed, executedStep{step: step, result: result})

	r.c.emit(Event{Type: EventStepCompleted, SagaID: r.sctx.ID(), StepName: name, Duration: elapsed})
	r.tracker.setStepStatus(name, StepStatusCompleted, nil)
	r.tracker.recordStepResult(name, r.index, result)
	r.index++
	r.tracker.persist()

	return result, nil
}

// Succeed finalizes the Run as a Success carrying the step results in
// execution order.
func (r *Run) Succeed() (Result, error) {
	if r.finished {
		return nil, ErrContextTerminal
	}
	r.finished = true

	results := make([]StepResult, len(r.executed))
	for i, es := range r.executed {
		results[i] = es.result
	}

	if err := r.sctx.MarkCompleted(); err != nil {
		return nil, err
	}
	r.tracker.setSagaStatus(StatusCompleted)
	r.c.emit(Event{Type: EventSagaCompleted, SagaID: r.sctx.ID()})

	return &Success{ID: r.sctx.ID(), Results: results}, nil
}

// Fail compensates every completed step in reverse order and finalizes
// the Run. failedStep names the step whose action raised cause; the
// facade passes its block sentinel when the block itself threw.
// Compensation failures never abort the sweep; they escalate the
// outcome from Failure to PartialFailure.
func (r *Run) Fail(failedStep string, cause error) (Result, error) {
	if r.finished {
		return nil, ErrContextTerminal
	}
	r.finished = true

	r.tracker.setSagaStatus(StatusCompensating)
	compensated, compErrs := r.c.compensateAll(r.ctx, r.sctx.ID(), r.executed, r.tracker)

	if err := r.sctx.MarkFailed(failedStep, cause); err != nil {
		return nil, err
	}

	if len(compErrs) > 0 {
		r.tracker.setSagaFailure(StatusPartiallyFailed, failedStep, cause)
		r.c.emit(Event{Type: EventSagaFailed, SagaID: r.sctx.ID(), Err: cause})
		return &PartialFailure{
			ID:                 r.sctx.ID(),
			Err:                cause,
			FailedStep:         failedStep,
			CompensationErrors: compErrs,
		}, nil
	}

	r.tracker.setSagaFailure(StatusFailed, failedStep, cause)
	r.c.emit(Event{Type: EventSagaFailed, SagaID: r.sctx.ID(), Err: cause})
	return &Failure{
		ID:               r.sctx.ID(),
		Err:              cause,
		FailedStep:       failedStep,
		CompensatedSteps: compensated,
	}, nil
}
