package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"funding-rate-alerts/internal/engine"
)

// FileStore persists tracking state as a single JSON document with
// overwrite semantics. Writes go through a temp file and rename so a
// failed save never corrupts the previous state.
type FileStore struct {
	path string
}

// NewFileStore constructs a file-backed state store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted state. A missing file yields empty state.
func (f *FileStore) Load(_ context.Context) (engine.TrackingState, error) {
	payload, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return engine.NewTrackingState(), nil
		}
		return engine.NewTrackingState(), fmt.Errorf("read state file: %w", err)
	}

	var state engine.TrackingState
	if err := json.Unmarshal(payload, &state); err != nil {
		return engine.NewTrackingState(), fmt.Errorf("decode state file: %w", err)
	}
	return state, nil
}

// Save overwrites the persisted state.
func (f *FileStore) Save(_ context.Context, state engine.TrackingState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

var _ engine.StateStore = (*FileStore)(nil)
