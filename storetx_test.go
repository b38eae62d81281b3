package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// user is the test item coordinated across the fake store.
type user struct {
	ID   string
	Name string
}

// memoryItemStore is a minimal ItemStore for the facade tests.
type memoryItemStore[T any] struct {
	items map[string]T
	idOf  func(T) string
	// failNextSave simulates a store outage for the next Save call.
	failNextSave bool
}

func newMemoryItemStore[T any](idOf func(T) string) *memoryItemStore[T] {
	return &memoryItemStore[T]{items: make(map[string]T), idOf: idOf}
}

func (m *memoryItemStore[T]) Get(ctx context.Context, id string) (*T, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memoryItemStore[T]) Save(ctx context.Context, item T) (T, error) {
	if m.failNextSave {
		m.failNextSave = false
		var zero T
		return zero, errors.New("store unavailable")
	}
	m.items[m.idOf(item)] = item
	return item, nil
}

func (m *memoryItemStore[T]) Delete(ctx context.Context, id string) (bool, error) {
	_, ok := m.items[id]
	delete(m.items, id)
	return ok, nil
}

func userID(u user) string { return u.ID }

func newUserStore() *memoryItemStore[user] {
	return newMemoryItemStore(userID)
}

func TestTransactionCommit(t *testing.T) {
	store := newUserStore()
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := SaveItem(tx, store, user{ID: "u1", Name: "Ada"}, userID); err != nil {
			return err
		}
		if _, err := SaveItem(tx, store, user{ID: "u2", Name: "Grace"}, userID); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, result.IsSuccess())

	assert.Len(t, store.items, 2)
	assert.Equal(t, "Ada", store.items["u1"].Name)
}

func TestTransactionRollsBackCreate(t *testing.T) {
	store := newUserStore()
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := SaveItem(tx, store, user{ID: "u1", Name: "Ada"}, userID); err != nil {
			return err
		}
		return errors.New("business rule violated")
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())

	// The created item is deleted on rollback.
	_, exists := store.items["u1"]
	assert.False(t, exists)
}

func TestTransactionRollsBackUpdate(t *testing.T) {
	store := newUserStore()
	store.items["u1"] = user{ID: "u1", Name: "Original"}
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := SaveItem(tx, store, user{ID: "u1", Name: "Updated"}, userID); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())

	// The prior value is restored.
	assert.Equal(t, "Original", store.items["u1"].Name)
}

func TestTransactionRollsBackDelete(t *testing.T) {
	store := newUserStore()
	store.items["u1"] = user{ID: "u1", Name: "Ada"}
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		deleted, err := DeleteItem(tx, store, "u1")
		if err != nil {
			return err
		}
		assert.True(t, deleted)
		return errors.New("boom")
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())

	// The deleted item is saved back.
	assert.Equal(t, "Ada", store.items["u1"].Name)
}

func TestTransactionBlockSentinel(t *testing.T) {
	store := newUserStore()
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := SaveItem(tx, store, user{ID: "u1", Name: "Ada"}, userID); err != nil {
			return err
		}
		return errors.New("the block itself threw")
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())
	assert.Equal(t, BlockStepName, result.(*Failure).FailedStep)
}

func TestTransactionNamesFailingStep(t *testing.T) {
	store := newUserStore()
	store.items["u1"] = user{ID: "u1", Name: "Ada"}
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := DeleteItem(tx, store, "u1"); err != nil {
			return err
		}
		store.failNextSave = true
		if _, err := SaveItem(tx, store, user{ID: "u2", Name: "Grace"}, userID); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())

	failure := result.(*Failure)
	assert.Equal(t, "save-u2", failure.FailedStep)
	assert.Equal(t, []string{"delete-u1"}, failure.CompensatedSteps)
	// The delete was un-done.
	assert.Equal(t, "Ada", store.items["u1"].Name)
}

func TestTransactionStepEscapeHatch(t *testing.T) {
	tc := NewTxCoordinator(New())

	var charged, refunded bool
	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		_, err := tx.Step("charge-card",
			func(ctx context.Context) (StepResult, error) {
				charged = true
				return "charge-99", nil
			},
			func(ctx context.Context, result StepResult) error {
				assert.Equal(t, "charge-99", result)
				refunded = true
				return nil
			})
		if err != nil {
			return err
		}
		return errors.New("later failure")
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())
	assert.True(t, charged)
	assert.True(t, refunded)
}

func TestTransactionBlockPanicRollsBack(t *testing.T) {
	store := newUserStore()
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := SaveItem(tx, store, user{ID: "u1", Name: "Ada"}, userID); err != nil {
			return err
		}
		panic("unexpected")
	})
	require.NoError(t, err)
	require.True(t, result.IsFailure())
	assert.Equal(t, BlockStepName, result.(*Failure).FailedStep)
	assert.Empty(t, store.items)
}

func TestTransactionAfterDispose(t *testing.T) {
	coord := New()
	coord.Dispose()
	tc := NewTxCoordinator(coord)

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error { return nil })
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestTransactionRepeatedStepNames(t *testing.T) {
	store := newUserStore()
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := SaveItem(tx, store, user{ID: "u1", Name: fmt.Sprintf("rev-%d", i)}, userID); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, result.IsSuccess())

	assert.Equal(t, "rev-2", store.items["u1"].Name)
	assert.Len(t, result.(*Success).Results, 3)
}

func TestTransactionIntrospection(t *testing.T) {
	store := newUserStore()
	tc := NewTxCoordinator(New())

	result, err := tc.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := SaveItem(tx, store, user{ID: "u1", Name: "Ada"}, userID); err != nil {
			return err
		}
		// After-the-fact introspection into what the saga did so far.
		saved, ok := tx.Context().StepResult("save-u1")
		require.True(t, ok)
		assert.Equal(t, "Ada", saved.(user).Name)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, result.IsSuccess())
}
