package demo

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/artemis-dev/artemis/internal/campaign"
)

func TestFileStateStore_SaveAndLoad(t *testing.T) {
	// Given: a state to persist
	dir := t.TempDir()
	store := NewFileStateStore(filepath.Join(dir, "campaigns"))

	state := campaign.State{
		ID:           "feature-1",
		ParentCardID: "feature-1",
		Tasks: []campaign.TaskResult{
			{CardID: "task-1", Status: campaign.TaskCompleted},
			{CardID: "task-2", Status: campaign.TaskPending},
		},
		CurrentTaskIdx: 1,
		StartedAt:      time.Now().Truncate(time.Second),
		Status:         campaign.CampaignRunning,
	}

	// When: saving then loading it back
	if err := store.Save(state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, found, err := store.Load("feature-1")

	// Then: the loaded state matches what was saved
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !found {
		t.Fatal("Load() found = false, want true")
	}
	if loaded.ID != state.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, state.ID)
	}
	if loaded.CurrentTaskIdx != 1 {
		t.Errorf("CurrentTaskIdx = %d, want 1", loaded.CurrentTaskIdx)
	}
	if len(loaded.Tasks) != 2 {
		t.Errorf("Tasks len = %d, want 2", len(loaded.Tasks))
	}
}

func TestFileStateStore_LoadNotFound(t *testing.T) {
	// Given: an empty store
	store := NewFileStateStore(t.TempDir())

	// When: loading a nonexistent ID
	_, found, err := store.Load("nonexistent")

	// Then: it reports not found without error
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if found {
		t.Error("Load() found = true, want false")
	}
}

func TestFileStateStore_Remove(t *testing.T) {
	// Given: a saved state
	dir := t.TempDir()
	store := NewFileStateStore(dir)
	state := campaign.State{ID: "cap-x", ParentCardID: "cap-x", Status: campaign.CampaignRunning}
	if err := store.Save(state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// When: removing it
	if err := store.Remove("cap-x"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	// Then: it is no longer found
	_, found, _ := store.Load("cap-x")
	if found {
		t.Error("Load() found = true after Remove, want false")
	}
}

func TestFileStateStore_RemoveNotFoundIsIdempotent(t *testing.T) {
	// Given: an empty store
	store := NewFileStateStore(t.TempDir())

	// When: removing a nonexistent ID
	err := store.Remove("nonexistent")

	// Then: no error
	if err != nil {
		t.Errorf("Remove(nonexistent) error = %v, want nil", err)
	}
}

func TestFileStateStore_PathTraversalRejected(t *testing.T) {
	store := NewFileStateStore(t.TempDir())

	tests := []struct {
		name string
		id   string
	}{
		{name: "parent traversal", id: "../../etc/passwd"},
		{name: "slash in id", id: "foo/bar"},
		{name: "empty id", id: ""},
		{name: "dot dot", id: ".."},
		{name: "current dir", id: "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a malicious or invalid ID

			// When: Save is called
			err := store.Save(campaign.State{ParentCardID: tt.id, Status: campaign.CampaignRunning})

			// Then: it returns ErrInvalidStateID
			if !errors.Is(err, ErrInvalidStateID) {
				t.Errorf("Save(%q) error = %v, want ErrInvalidStateID", tt.id, err)
			}

			// When: Load is called
			_, _, err = store.Load(tt.id)

			// Then: it returns ErrInvalidStateID
			if !errors.Is(err, ErrInvalidStateID) {
				t.Errorf("Load(%q) error = %v, want ErrInvalidStateID", tt.id, err)
			}

			// When: Remove is called
			err = store.Remove(tt.id)

			// Then: it returns ErrInvalidStateID
			if !errors.Is(err, ErrInvalidStateID) {
				t.Errorf("Remove(%q) error = %v, want ErrInvalidStateID", tt.id, err)
			}
		})
	}
}
