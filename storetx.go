package saga

import (
	"context"
	"errors"
	"fmt"
)

// BlockStepName is the sentinel failed-step name reported when the
// transaction block itself returned an error, as opposed to a specific
// named step failing.
const BlockStepName = "__block__"

// ItemStore is the external store abstraction the facade coordinates
// against. Implementations must return the item by ID or nil when
// absent, and report deletion success. The facade's auto-compensation
// depends on Get being consistent enough to snapshot the prior value
// immediately before a save or delete.
type ItemStore[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	Save(ctx context.Context, item T) (T, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// TxCoordinator wraps a Coordinator with auto-generated compensations
// for common save and delete operations against external stores, plus
// a fluent transaction-block entry point.
type TxCoordinator struct {
	coord *Coordinator
}

// NewTxCoordinator creates a facade over the given Coordinator.
func NewTxCoordinator(coord *Coordinator) *TxCoordinator {
	return &TxCoordinator{coord: coord}
}

// Tx is the transaction-scoped context handed to a block. Each
// primitive call is translated, as the block reaches it, into a
// single-step execution against the underlying coordinator, so when
// the block fails after N successful calls exactly those N steps are
// compensated in reverse.
type Tx struct {
	run      *Run
	names    map[string]int
	lastStep string
	lastErr  error
}

// Transaction runs the block with saga semantics. A nil block error
// finalizes as Success; a returned error rolls back every primitive
// call the block completed, in reverse order. The failure result names
// the failing step, or BlockStepName when the block threw an error of
// its own. Coordinator-level Failure and PartialFailure results are
// surfaced unchanged.
func (tc *TxCoordinator) Transaction(ctx context.Context, block func(tx *Tx) error, sagaID ...string) (Result, error) {
	run, err := tc.coord.Begin(ctx, sagaID...)
	if err != nil {
		return nil, err
	}

	tx := &Tx{run: run, names: make(map[string]int)}
	blockErr := runBlock(block, tx)
	if blockErr == nil {
		return run.Succeed()
	}

	failedStep := BlockStepName
	if tx.lastErr != nil && errors.Is(blockErr, tx.lastErr) {
		failedStep = tx.lastStep
	}
	return run.Fail(failedStep, blockErr)
}

// runBlock invokes the block, converting a panic into a block error so
// completed steps still roll back.
func runBlock(block func(tx *Tx) error, tx *Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction block panicked: %v", r)
		}
	}()
	return block(tx)
}

// Context exposes the underlying execution tracker.
func (tx *Tx) Context() *Context {
	return tx.run.Context()
}

// Step is the escape hatch for arbitrary custom logic, identical in
// contract to a raw Step.
func (tx *Tx) Step(name string, action ActionFunc[StepResult], compensate CompensateFunc[StepResult]) (StepResult, error) {
	return tx.RunStep(NewStep(name, action, compensate))
}

// RunStep executes one step within the transaction.
func (tx *Tx) RunStep(step Step) (StepResult, error) {
	result, err := tx.run.RunStep(step)
	if err != nil {
		tx.lastStep = step.Name()
		tx.lastErr = err
	}
	return result, err
}

// stepName builds a per-transaction unique step name for a store
// primitive. Repeated operations on the same item get an ordinal
// suffix.
func (tx *Tx) stepName(op, id string) string {
	base := op + "-" + id
	tx.names[base]++
	if n := tx.names[base]; n > 1 {
		return fmt.Sprintf("%s-%d", base, n)
	}
	return base
}

// SaveItem saves the item with an auto-generated compensation: the
// prior value is snapshotted before the save, and rollback either
// deletes the item (it was a create) or restores the prior value (it
// was an update). Returns the saved item.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func SaveItem[T any](tx *Tx, store ItemStore[T], item T, idOf func(T) string) (T, error) {
	var zero T
	id := idOf(item)

	var prior *T
	step := NewStep(tx.stepName("save", id),
		func(ctx context.Context) (T, error) {
			existing, err := store.Get(ctx, id)
			if err != nil {
				return zero, err
			}
			prior = existing
			return store.Save(ctx, item)
		},
		func(ctx context.Context, _ T) error {
			if prior == nil {
				_, err := store.Delete(ctx, id)
				return err
			}
			_, err := store.Save(ctx, *prior)
			return err
		})

	result, err := tx.RunStep(step)
	if err != nil {
		return zero, err
	}
	saved, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("save %q: unexpected result type %T", id, result)
	}
	return saved, nil
}

// DeleteItem deletes the item with an auto-generated compensation that
// saves the captured prior value back (un-delete). Returns whether the
// delete removed anything.
func DeleteItem[T any](tx *Tx, store ItemStore[T], id string) (bool, error) {
	var prior *T
	step := NewStep(tx.stepName("delete", id),
		func(ctx context.Context) (bool, error) {
			existing, err := store.Get(ctx, id)
			if err != nil {
				return false, err
			}
			prior = existing
			return store.Delete(ctx, id)
		},
		func(ctx context.Context, _ bool) error {
			if prior == nil {
				return nil
			}
			_, err := store.Save(ctx, *prior)
			return err
		})

	result, err := tx.RunStep(step)
	if err != nil {
		return false, err
	}
	deleted, _ := result.(bool)
	return deleted, nil
}
