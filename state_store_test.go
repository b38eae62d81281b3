package saga

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWithStatus(sagaID string, status Status) *State {
	return &State{
		SagaID:    sagaID,
		Status:    status,
		StartedAt: time.Now(),
	}
}

func TestStatusTerminality(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusExecuting.IsTerminal())
	assert.False(t, StatusCompensating.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusPartiallyFailed.IsTerminal())
}

func TestStateIdentityBySagaID(t *testing.T) {
	early := stateWithStatus("saga-1", StatusExecuting)
	late := stateWithStatus("saga-1", StatusCompleted)
	other := stateWithStatus("saga-2", StatusExecuting)

	assert.True(t, early.Equal(late))
	assert.False(t, early.Equal(other))
	assert.False(t, early.Equal(nil))
}

func TestMemoryStateStoreRoundTrip(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	state := stateWithStatus("saga-1", StatusExecuting)
	state.Steps = []StepState{{Name: "A", Status: StepStatusCompleted}}
	state.Results = map[string]json.RawMessage{"A": json.RawMessage(`1`)}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "saga-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StatusExecuting, loaded.Status)
	assert.Equal(t, json.RawMessage(`1`), loaded.Results["A"])

	// Mutating the loaded copy must not affect the stored snapshot.
	loaded.Status = StatusFailed
	loaded.Steps[0].Status = StepStatusFailed
	again, err := store.Load(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, again.Status)
	assert.Equal(t, StepStatusCompleted, again.Steps[0].Status)
}

func TestMemoryStateStoreLoadAbsent(t *testing.T) {
	store := NewMemoryStateStore()
	loaded, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryStateStoreGetIncomplete(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, stateWithStatus("s-exec", StatusExecuting)))
	require.NoError(t, store.Save(ctx, stateWithStatus("s-done", StatusCompleted)))
	require.NoError(t, store.Save(ctx, stateWithStatus("s-comp", StatusCompensating)))
	require.NoError(t, store.Save(ctx, stateWithStatus("s-fail", StatusFailed)))

	incomplete, err := store.GetIncomplete(ctx)
	require.NoError(t, err)

	var ids []string
	for _, s := range incomplete {
		ids = append(ids, s.SagaID)
	}
	assert.Equal(t, []string{"s-comp", "s-exec"}, ids)
}

func TestMemoryStateStoreDeleteAndClear(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, stateWithStatus("s1", StatusExecuting)))
	require.NoError(t, store.Delete(ctx, "s1"))
	// Deleting an absent record is a no-op.
	require.NoError(t, store.Delete(ctx, "s1"))

	require.NoError(t, store.Save(ctx, stateWithStatus("s2", StatusExecuting)))
	require.NoError(t, store.Save(ctx, stateWithStatus("s3", StatusFailed)))
	require.NoError(t, store.Clear(ctx))

	loaded, err := store.Load(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileStateStoreRoundTrip(t *testing.T) {
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	state := stateWithStatus("saga-file", StatusCompensating)
	state.Steps = []StepState{
		{Name: "A", Status: StepStatusCompensated},
		{Name: "B", Status: StepStatusFailed, Error: "boom"},
	}
	state.FailedStep = "B"
	state.Error = "boom"
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "saga-file")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StatusCompensating, loaded.Status)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, "boom", loaded.Steps[1].Error)

	incomplete, err := store.GetIncomplete(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "saga-file", incomplete[0].SagaID)

	require.NoError(t, store.Delete(ctx, "saga-file"))
	require.NoError(t, store.Delete(ctx, "saga-file"))

	loaded, err = store.Load(ctx, "saga-file")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCoordinatorPersistsSnapshots(t *testing.T) {
	store := NewMemoryStateStore()
	coord := New(WithStateStore(store))
	defer coord.Dispose()

	var trace []string
	result, err := coord.Execute(context.Background(), []Step{
		recordingStep("A", 41, &trace),
		recordingStep("B", "ok", &trace),
	}, "saga-persist")
	require.NoError(t, err)
	require.True(t, result.IsSuccess())

	state, err := store.Load(context.Background(), "saga-persist")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.NotNil(t, state.CompletedAt)
	require.Len(t, state.Steps, 2)
	assert.Equal(t, StepStatusCompleted, state.Steps[0].Status)
	assert.Equal(t, json.RawMessage(`41`), state.Results["A"])
	assert.Equal(t, json.RawMessage(`"ok"`), state.Results["B"])
}

func TestCoordinatorPersistsFailureStates(t *testing.T) {
	store := NewMemoryStateStore()
	coord := New(WithStateStore(store))
	defer coord.Dispose()

	var trace []string
	result, err := coord.Execute(context.Background(), []Step{
		recordingStep("A", 1, &trace),
		NewStep("B",
			func(ctx context.Context) (int, error) { return 0, assert.AnError },
			NoOpCompensate[int]),
	}, "saga-fail")
	require.NoError(t, err)
	require.True(t, result.IsFailure())

	state, err := store.Load(context.Background(), "saga-fail")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "B", state.FailedStep)

	stepA, ok := state.StepStateFor("A")
	require.True(t, ok)
	assert.Equal(t, StepStatusCompensated, stepA.Status)

	stepB, ok := state.StepStateFor("B")
	require.True(t, ok)
	assert.Equal(t, StepStatusFailed, stepB.Status)
	assert.NotEmpty(t, stepB.Error)
}
