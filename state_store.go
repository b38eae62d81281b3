package saga

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// StateStore persists saga state snapshots. Implementations must treat
// Delete of an absent record as a no-op. An in-memory implementation is
// provided for tests and single-process use; durable implementations
// are a collaborator concern.
type StateStore interface {
	// Save persists the snapshot, replacing any prior snapshot for the
	// same saga ID.
	Save(ctx context.Context, state *State) error

	// Load retrieves a snapshot by saga ID, or nil if absent.
	Load(ctx context.Context, sagaID string) (*State, error)

	// Delete removes a snapshot. Absent records are not an error.
	Delete(ctx context.Context, sagaID string) error

	// GetIncomplete returns exactly the snapshots whose status is not
	// terminal.
	GetIncomplete(ctx context.Context) ([]*State, error)

	// Clear removes all snapshots.
	Clear(ctx context.Context) error
}

// MemoryStateStore is an in-memory StateStore. It holds no persistence
// across process restarts.
type MemoryStateStore struct {
	states *xsync.MapOf[string, *State]
}

// NewMemoryStateStore creates a new in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: xsync.NewMapOf[string, *State](),
	}
}

// Save stores a copy of the snapshot.
func (m *MemoryStateStore) Save(ctx context.Context, state *State) error {
	cp := cloneState(state)
	m.states.Store(state.SagaID, cp)
	return nil
}

// Load retrieves a copy of the snapshot, or nil if absent.
func (m *MemoryStateStore) Load(ctx context.Context, sagaID string) (*State, error) {
	state, ok := m.states.Load(sagaID)
	if !ok {
		return nil, nil
	}
	return cloneState(state), nil
}

// Delete removes a snapshot; absent records are a no-op.
func (m *MemoryStateStore) Delete(ctx context.Context, sagaID string) error {
	m.states.Delete(sagaID)
	return nil
}

// GetIncomplete returns the non-terminal snapshots, ordered by saga ID
// for deterministic output.
func (m *MemoryStateStore) GetIncomplete(ctx context.Context) ([]*State, error) {
	var out []*State
	m.states.Range(func(_ string, state *State) bool {
		if !state.Status.IsTerminal() {
			out = append(out, cloneState(state))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].SagaID < out[j].SagaID
	})
	return out, nil
}

// Clear removes all snapshots.
func (m *MemoryStateStore) Clear(ctx context.Context) error {
	m.states.Clear()
	return nil
}

// cloneState copies a snapshot so callers cannot mutate stored state.
func cloneState(s *State) *State {
	cp := *s
	cp.Steps = append([]StepState(nil), s.Steps...)
	if s.Results != nil {
		cp.Results = make(map[string]json.RawMessage, len(s.Results))
		for k, v := range s.Results {
			cp.Results[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
