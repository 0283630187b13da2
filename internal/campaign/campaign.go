// Package campaign sequences multiple cards (a feature or epic's ready
// children) through an Orchestrator: one multi-card run sharing the
// same EventBus, CircuitBreaker registry, and CheckpointStore as any
// single-card run, with its own circuit breaker over consecutive task
// failures, discovery filing, and resumable state.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artemis-dev/artemis/internal/card"
	"github.com/artemis-dev/artemis/internal/eventbus"
	"github.com/artemis-dev/artemis/internal/orchestrator"
)

// Sentinel errors for caller-checkable conditions.
var (
	ErrCircuitBroken = errors.New("campaign: circuit breaker tripped")
	ErrNoTasks       = errors.New("campaign: no ready tasks found")
	ErrMaxDepth      = errors.New("campaign: max recursion depth reached")
	ErrCycle         = errors.New("campaign: cycle detected")
)

// maxCampaignDepth caps recursive campaign nesting (epic -> feature -> task).
const maxCampaignDepth = 3

// PipelineRunner abstracts the Orchestrator for campaign use.
type PipelineRunner interface {
	Run(ctx context.Context, c card.Card) (orchestrator.FinalResult, error)
}

// CardInfo holds the minimal metadata a CardSource reports about one
// card: enough to sequence it and decide whether it recurses into a
// sub-campaign (Type == "epic" or "feature") or runs a pipeline
// directly (anything else).
type CardInfo struct {
	ID          string
	Title       string
	Description string
	Priority    int
	Type        string
}

// CardInput holds the fields needed to file a new card.
type CardInput struct {
	ParentID string
	Type     string
	Title    string
	Priority int
}

// CardSource abstracts the external card tracker (issue tracker, bead
// store, etc.) a campaign reads children from.
type CardSource interface {
	ReadyChildren(parentID string) ([]CardInfo, error)
	Show(id string) (CardInfo, error)
	Close(id string) error
}

// CardFiler is the narrow interface discovery filing uses to create a
// follow-up card from a stage finding. Kept separate from CardSource
// because filing is optional (Config.DiscoveryFiling) and a caller may
// want to wire a different sink for it than the card tracker itself.
type CardFiler interface {
	FileCard(input CardInput) (string, error)
}

// Finding is a stage-surfaced issue worth tracking as a follow-up card.
// Stages that want discovery filing return findings under the
// "findings" key of their StageResult output, as []Finding.
type Finding struct {
	Title    string
	Severity string // "critical" | "major" | "minor" | anything else
}

// CampaignStatus is the lifecycle status of a campaign run.
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// TaskStatus is the lifecycle status of one task within a campaign.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Config holds campaign-specific settings, independent of any single
// run's retry/timeout configuration.
type Config struct {
	FailureMode     string // "abort" | "continue"
	CircuitBreaker  int    // max consecutive task failures before stopping; 0 disables
	DiscoveryFiling bool   // file findings as new follow-up cards
}

// State is a campaign's persisted, resumable sequencing state.
type State struct {
	ID             string         `json:"id"`
	ParentCardID   string         `json:"parent_card_id"`
	Tasks          []TaskResult   `json:"tasks"`
	CurrentTaskIdx int            `json:"current_task_idx"`
	ConsecFailures int            `json:"consecutive_failures"`
	StartedAt      time.Time      `json:"started_at"`
	Status         CampaignStatus `json:"status"`
}

// TaskResult records the outcome of a single task within a campaign.
type TaskResult struct {
	CardID string     `json:"card_id"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// StateStore persists campaign state between runs, independent of the
// per-card CheckpointStore each Orchestrator.Run uses internally.
type StateStore interface {
	Save(state State) error
	Load(id string) (State, bool, error)
	Remove(id string) error
}

// Runner drives a campaign: sequential task execution with a
// consecutive-failure circuit breaker, discovery filing, and
// resumable state, sharing the given Orchestrator's EventBus,
// CircuitBreaker registry, and CheckpointStore with every other run.
type Runner struct {
	Pipeline PipelineRunner
	Cards    CardSource
	Filer    CardFiler // optional; required only when Config.DiscoveryFiling is true
	Store    StateStore
	Config   Config
	Bus      *eventbus.Bus
}

// Run executes a campaign for the given parent card (a feature or
// epic). It discovers ready children, runs pipelines sequentially,
// handles failures per Config.FailureMode, files discoveries, and
// recurses into a sub-campaign when a child is itself a feature or
// epic. A sub-campaign nested past the maximum depth fails the whole
// run with ErrMaxDepth, whatever the FailureMode.
func (r *Runner) Run(ctx context.Context, parentID string) error {
	return r.runRecursive(ctx, parentID, 0, make(map[string]bool))
}

func (r *Runner) runRecursive(ctx context.Context, parentID string, depth int, visited map[string]bool) error {
	if depth > maxCampaignDepth {
		return fmt.Errorf("%w: depth %d for %s", ErrMaxDepth, depth, parentID)
	}
	if visited[parentID] {
		return fmt.Errorf("%w: %s", ErrCycle, parentID)
	}
	visited[parentID] = true

	children, err := r.Cards.ReadyChildren(parentID)
	if err != nil {
		return fmt.Errorf("campaign: listing children of %s: %w", parentID, err)
	}
	if len(children) == 0 {
		return ErrNoTasks
	}

	childTypes := make(map[string]string, len(children))
	for _, c := range children {
		childTypes[c.ID] = c.Type
	}

	state := r.initOrResumeState(parentID, children)
	state.Status = CampaignRunning
	r.publish(eventbus.CampaignStarted, parentID, map[string]any{"task_count": len(children)})

	for i := state.CurrentTaskIdx; i < len(state.Tasks); i++ {
		task := &state.Tasks[i]
		if task.Status == TaskCompleted || task.Status == TaskSkipped {
			continue
		}

		if r.Config.CircuitBreaker > 0 && state.ConsecFailures >= r.Config.CircuitBreaker {
			state.Status = CampaignFailed
			r.save(state)
			return ErrCircuitBroken
		}

		task.Status = TaskRunning
		r.publish(eventbus.CampaignTaskStarted, task.CardID, nil)

		if childTypes[task.CardID] == "feature" || childTypes[task.CardID] == "epic" {
			err = r.runRecursive(ctx, task.CardID, depth+1, visited)
		} else {
			var result orchestrator.FinalResult
			result, err = r.Pipeline.Run(ctx, r.buildCard(task.CardID))
			if err == nil {
				r.fileDiscoveries(result, parentID)
			}
		}

		if err != nil {
			task.Status = TaskFailed
			task.Error = err.Error()
			state.ConsecFailures++
			r.publish(eventbus.CampaignTaskFailed, task.CardID, map[string]any{"error": err.Error()})

			if r.Config.FailureMode == "abort" || errors.Is(err, ErrMaxDepth) {
				state.Status = CampaignFailed
				r.save(state)
				r.publish(eventbus.CampaignFailed, parentID, nil)
				return fmt.Errorf("campaign: task %s failed: %w", task.CardID, err)
			}
			state.CurrentTaskIdx = i + 1
			r.save(state)
			continue
		}

		task.Status = TaskCompleted
		state.ConsecFailures = 0
		r.publish(eventbus.CampaignTaskCompleted, task.CardID, nil)

		_ = r.Cards.Close(task.CardID)

		state.CurrentTaskIdx = i + 1
		r.save(state)
	}

	state.Status = CampaignCompleted
	r.save(state)
	r.publish(eventbus.CampaignCompleted, parentID, nil)
	return nil
}

func (r *Runner) initOrResumeState(parentID string, children []CardInfo) State {
	if r.Store != nil {
		if existing, found, err := r.Store.Load(parentID); err == nil && found && existing.Status != CampaignCompleted {
			return existing
		}
	}

	tasks := make([]TaskResult, len(children))
	for i, c := range children {
		tasks[i] = TaskResult{CardID: c.ID, Status: TaskPending}
	}
	return State{
		ID: parentID, ParentCardID: parentID, Tasks: tasks,
		StartedAt: time.Now(), Status: CampaignRunning,
	}
}

func (r *Runner) buildCard(cardID string) card.Card {
	c := card.Card{ID: cardID}
	if info, err := r.Cards.Show(cardID); err == nil {
		c.Title = info.Title
		c.Description = info.Description
		c.Priority = info.Priority
	}
	return c
}

// fileDiscoveries files each finding a stage surfaced in its output as
// a new follow-up card, when Config.DiscoveryFiling is enabled.
func (r *Runner) fileDiscoveries(result orchestrator.FinalResult, parentID string) {
	if !r.Config.DiscoveryFiling || r.Filer == nil {
		return
	}
	for _, sr := range result.StageResults {
		findings, ok := sr.Output["findings"].([]Finding)
		if !ok {
			continue
		}
		for _, f := range findings {
			newID, err := r.Filer.FileCard(CardInput{
				ParentID: parentID, Type: "task",
				Title: f.Title, Priority: severityToPriority(f.Severity),
			})
			if err != nil {
				continue
			}
			r.publish(eventbus.CampaignDiscoveryFiled, parentID, map[string]any{"title": f.Title, "new_card_id": newID})
		}
	}
}

func (r *Runner) save(state State) {
	if r.Store == nil {
		return
	}
	_ = r.Store.Save(state)
}

func (r *Runner) publish(t eventbus.Type, cardID string, payload map[string]any) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(eventbus.Event{Type: t, CardID: cardID, Payload: payload})
}

func severityToPriority(severity string) int {
	switch severity {
	case "critical":
		return 0
	case "major":
		return 1
	case "minor":
		return 2
	default:
		return 3
	}
}
