package saga

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// stateTracker maintains the durable State snapshot for one execution
// and writes it to the StateStore at every transition. A nil store
// disables persistence; tracking still happens so introspection stays
// cheap. Persistence failures are logged and never abort the saga.
type stateTracker struct {
	ctx    context.Context
	store  StateStore
	logger *zap.Logger
	state  *State
}

func newStateTracker(ctx context.Context, store StateStore, logger *zap.Logger, state *State) *stateTracker {
	return &stateTracker{
		ctx:    ctx,
		store:  store,
		logger: logger,
		state:  state,
	}
}

func newSagaState(sagaID string) *State {
	return &State{
		SagaID:    sagaID,
		Status:    StatusPending,
		StartedAt: time.Now(),
		Results:   make(map[string]json.RawMessage),
	}
}

// declareStep registers a step as pending before it runs, so the
// snapshot always lists the full plan known so far.
func (t *stateTracker) declareStep(name string) {
	if _, ok := t.state.StepStateFor(name); ok {
		return
	}
	t.state.Steps = append(t.state.Steps, StepState{
		Name:   name,
		Status: StepStatusPending,
	})
}

func (t *stateTracker) setSagaStatus(status Status) {
	t.state.Status = status
	if status.IsTerminal() {
		now := time.Now()
		t.state.CompletedAt = &now
	}
	t.persist()
}

// setSagaFailure records the terminal failure status together with the
// failed step and triggering error.
func (t *stateTracker) setSagaFailure(status Status, failedStep string, err error) {
	t.state.FailedStep = failedStep
	if err != nil {
		t.state.Error = err.Error()
	}
	t.setSagaStatus(status)
}

// setStepStatus updates a step's snapshot. The step is declared on
// first sight so incremental executions stay consistent.
func (t *stateTracker) setStepStatus(name string, status StepStatus, stepErr error) {
	t.declareStep(name)
	ss, _ := t.state.StepStateFor(name)
	ss.Status = status
	now := time.Now()
	switch status {
	case StepStatusExecuting:
		ss.StartedAt = &now
	case StepStatusCompleted, StepStatusFailed, StepStatusCompensated:
		ss.CompletedAt = &now
	}
	if stepErr != nil {
		ss.Error = stepErr.Error()
	}
	t.persist()
}

// recordStepResult stores a step's result in the snapshot. Results
// that cannot be marshaled are skipped with a warning; the saga itself
// is unaffected.
func (t *stateTracker) recordStepResult(name string, index int, result StepResult) {
	t.state.CurrentStepIndex = index
	if result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.logger.Warn("failed to marshal step result for snapshot",
			zap.String("saga_id", t.state.SagaID),
			zap.String("step", name),
			zap.Error(err))
		return
	}
	t.state.Results[name] = data
	if ss, ok := t.state.StepStateFor(name); ok {
		ss.Result = data
	}
}

func (t *stateTracker) persist() {
	if t.store == nil {
		return
	}
	if err := t.store.Save(t.ctx, t.state); err != nil {
		t.logger.Warn("failed to persist saga state",
			zap.String("saga_id", t.state.SagaID),
			zap.String("status", string(t.state.Status)),
			zap.Error(err))
	}
}

// captureStack records the stack at a compensation failure site.
func captureStack() string {
	return string(debug.Stack())
}
