package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStateStore is a StateStore that persists each saga snapshot as a
// JSON file on disk. It is the durable reference implementation;
// production deployments may substitute their own backend.
type FileStateStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStateStore creates a file-based store rooted at the given
// directory, creating it if necessary.
func NewFileStateStore(basePath string) (*FileStateStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileStateStore{basePath: basePath}, nil
}

// Save persists the snapshot to a JSON file.
func (f *FileStateStore) Save(ctx context.Context, state *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(f.filename(state.SagaID), data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Load retrieves the snapshot from its JSON file, or nil if absent.
func (f *FileStateStore) Load(ctx context.Context, sagaID string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(sagaID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the snapshot file; an absent file is not an error.
func (f *FileStateStore) Delete(ctx context.Context, sagaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(sagaID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// GetIncomplete scans the directory and returns the snapshots whose
// status is not terminal.
func (f *FileStateStore) GetIncomplete(ctx context.Context) ([]*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var out []*State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.basePath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read state file %s: %w", entry.Name(), err)
		}
		var state State
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state file %s: %w", entry.Name(), err)
		}
		if !state.Status.IsTerminal() {
			out = append(out, &state)
		}
	}
	return out, nil
}

// Clear removes all snapshot files.
func (f *FileStateStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return fmt.Errorf("failed to read state directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(f.basePath, entry.Name())); err != nil {
			return fmt.Errorf("failed to delete state file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// filename returns the full path for a saga's state file.
func (f *FileStateStore) filename(sagaID string) string {
	return filepath.Join(f.basePath, sagaID+".json")
}
