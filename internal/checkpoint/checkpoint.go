// Package checkpoint implements the CheckpointStore contract:
// snapshotting completed-stage results, pipeline state, and the
// executed plan so a crashed or paused run can resume.
package checkpoint

import (
	"errors"
	"time"
)

// Sentinel errors for caller-checkable conditions.
var (
	ErrInvalidID = errors.New("checkpoint: invalid card id")
	ErrTooLarge  = errors.New("checkpoint: payload exceeds max_bytes")
	ErrNotFound  = errors.New("checkpoint: not found")
)

// StageRecord is one completed stage's persisted result.
type StageRecord struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Attempts   int            `json:"attempts"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// PlanEntryRecord identifies one stage entry of the plan that produced
// this checkpoint, used to detect a stale/mismatched plan on resume.
type PlanEntryRecord struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Checkpoint is a value object: readers receive an immutable copy.
// checkpoint_id increases monotonically per card id; CompletedStages is a
// prefix of Plan.
type Checkpoint struct {
	CardID          string            `json:"card_id"`
	CheckpointID    int64             `json:"checkpoint_id"`
	PipelineState   string            `json:"pipeline_state"`
	StartedAt       time.Time         `json:"started_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedStages []StageRecord     `json:"completed_stages"`
	Plan            []PlanEntryRecord `json:"plan"`
}

// Clone returns a deep-enough copy of c so mutating the result never
// affects the store's internal state (relevant for the in-memory
// backend, which otherwise would hand out aliases).
func (c Checkpoint) Clone() Checkpoint {
	out := c
	out.CompletedStages = append([]StageRecord(nil), c.CompletedStages...)
	out.Plan = append([]PlanEntryRecord(nil), c.Plan...)
	return out
}

// Store is the CheckpointStore contract. Backends are pluggable; the
// substrate ships filesystem and in-memory implementations.
type Store interface {
	Save(cp Checkpoint) error
	Load(cardID string) (Checkpoint, bool, error)
	Delete(cardID string) error
}

// ResumablePrefix compares a freshly computed plan against a loaded
// checkpoint's plan and returns the count of leading stages that match
// by name and parameters. This is the conservative
// "prefix-match-or-invalidate" policy: the orchestrator resumes only
// this many leading stages from the checkpoint; everything after the
// first mismatch is re-run.
func ResumablePrefix(checkpointPlan []PlanEntryRecord, currentPlan []PlanEntryRecord) int {
	n := 0
	for n < len(checkpointPlan) && n < len(currentPlan) {
		if checkpointPlan[n].Name != currentPlan[n].Name {
			break
		}
		if !paramsEqual(checkpointPlan[n].Params, currentPlan[n].Params) {
			break
		}
		n++
	}
	return n
}

func paramsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
