package demo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/artemis-dev/artemis/internal/campaign"
)

// ErrInvalidStateID indicates a campaign state ID is empty or contains
// path traversal components.
var ErrInvalidStateID = errors.New("demo: invalid campaign state id")

// FileStateStore persists campaign.State as JSON files under a base
// directory, one file per campaign (keyed by its parent card id).
type FileStateStore struct {
	baseDir string
}

// NewFileStateStore creates a FileStateStore rooted at baseDir.
func NewFileStateStore(baseDir string) *FileStateStore {
	return &FileStateStore{baseDir: baseDir}
}

// Save implements campaign.StateStore.
func (s *FileStateStore) Save(state campaign.State) error {
	p, err := s.path(state.ParentCardID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("demo: creating campaign state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("demo: marshaling campaign state: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("demo: writing %s: %w", p, err)
	}
	return nil
}

// Load implements campaign.StateStore.
func (s *FileStateStore) Load(id string) (campaign.State, bool, error) {
	p, err := s.path(id)
	if err != nil {
		return campaign.State{}, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return campaign.State{}, false, nil
		}
		return campaign.State{}, false, fmt.Errorf("demo: reading %s: %w", p, err)
	}
	var state campaign.State
	if err := json.Unmarshal(data, &state); err != nil {
		return campaign.State{}, false, fmt.Errorf("demo: parsing %s: %w", p, err)
	}
	return state, true, nil
}

// Remove implements campaign.StateStore.
func (s *FileStateStore) Remove(id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("demo: removing %s: %w", p, err)
	}
	return nil
}

// path rejects IDs that are empty, dot-segments, or contain path
// separators, guarding against path traversal through a campaign id.
func (s *FileStateStore) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || id != filepath.Base(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStateID, id)
	}
	return filepath.Join(s.baseDir, id+".json"), nil
}
