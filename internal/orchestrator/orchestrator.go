// Package orchestrator implements the top-level pipeline driver:
// resolve a plan, execute stages in order through the Supervisor,
// track state, persist checkpoints, and return a FinalResult.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artemis-dev/artemis/internal/card"
	"github.com/artemis-dev/artemis/internal/checkpoint"
	"github.com/artemis-dev/artemis/internal/errtax"
	"github.com/artemis-dev/artemis/internal/eventbus"
	"github.com/artemis-dev/artemis/internal/ratelimit"
	"github.com/artemis-dev/artemis/internal/retry"
	"github.com/artemis-dev/artemis/internal/router"
	"github.com/artemis-dev/artemis/internal/stage"
	"github.com/artemis-dev/artemis/internal/statemachine"
	"github.com/artemis-dev/artemis/internal/supervisor"
)

// FinalResult is what Run returns to the caller: the terminal pipeline
// state, every stage's result (including skipped/failed), and the
// terminal error on failure.
type FinalResult struct {
	CardID       string
	State        statemachine.State
	StageResults []supervisor.StageResult
	Err          error
}

// Orchestrator ties together the Router, StageRegistry, Supervisor,
// CheckpointStore, EventBus, and StateMachine for one or more runs. A
// single Orchestrator may drive concurrent runs for different cards;
// they share only the event bus, circuit registry, and checkpoint
// store.
type Orchestrator struct {
	Registry       *stage.Registry
	Router         *router.Router
	Supervisor     *supervisor.Supervisor
	Checkpoints    checkpoint.Store
	Bus            *eventbus.Bus
	DefaultPolicy  retry.Policy
	DefaultTimeout time.Duration
	RateLimiter    *ratelimit.Bucket // optional; nil disables rate limiting
	HistoryLimit   int               // state machine history bound; 0 uses the default
}

// Run resolves a plan for card c, executes it stage by stage, and
// returns the FinalResult. Run owns the context and state machine for
// this call exclusively; it shares only the event bus, circuit
// registry, and checkpoint store with concurrent runs.
func (o *Orchestrator) Run(ctx context.Context, c card.Card) (FinalResult, error) {
	if err := c.Validate(); err != nil {
		return FinalResult{}, errtax.Wrap(errtax.InvalidInput, err).WithCard(c.ID)
	}

	sm := statemachine.New(o.HistoryLimit)
	result := FinalResult{CardID: c.ID}

	if err := sm.Transition(statemachine.Running, "run started"); err != nil {
		return FinalResult{}, errtax.Wrap(errtax.Internal, err).WithCard(c.ID)
	}
	o.publish(eventbus.PipelineStarted, c.ID, "", nil)

	plan, err := o.Router.Plan(c)
	if err != nil {
		return o.fail(sm, &result, errtax.Wrap(errtax.Configuration, err).WithCard(c.ID))
	}

	pctx := card.NewContext(c)
	checkpointPlan := toPlanRecords(plan)
	completed, resumeFrom, loadErr := o.loadResumeState(c.ID, checkpointPlan, pctx, &result)
	if loadErr != nil {
		return o.fail(sm, &result, loadErr)
	}

	if resumeFrom >= len(plan) {
		// Every stage already recorded as completed: no-op rerun.
		if err := sm.Transition(statemachine.Completed, "checkpoint fully satisfied"); err != nil {
			return o.fail(sm, &result, errtax.Wrap(errtax.Internal, err).WithCard(c.ID))
		}
		o.publish(eventbus.PipelineCompleted, c.ID, "", nil)
		result.State = sm.State()
		return result, nil
	}

	for i := resumeFrom; i < len(plan); i++ {
		entry := plan[i]

		select {
		case <-ctx.Done():
			return o.cancel(sm, c.ID, &result, completed, checkpointPlan)
		default:
		}

		if o.RateLimiter != nil {
			if err := o.RateLimiter.Wait(ctx); err != nil {
				return o.cancel(sm, c.ID, &result, completed, checkpointPlan)
			}
		}

		st, ok := o.Registry.Lookup(entry.Name)
		if !ok {
			err := errtax.New(errtax.Configuration, fmt.Sprintf("unregistered stage %q in plan", entry.Name)).WithCard(c.ID)
			return o.fail(sm, &result, err)
		}

		timeout := entry.Timeout
		if timeout <= 0 {
			timeout = o.DefaultTimeout
		}
		policy := o.DefaultPolicy
		if entry.RetryBudget > 0 {
			policy.MaxAttempts = entry.RetryBudget + 1
		}

		sr := o.Supervisor.Invoke(ctx, c.ID, st, pctx.View(), entry.Extra, policy, timeout)
		result.StageResults = append(result.StageResults, sr)

		if sr.Status == supervisor.Succeeded {
			pctx.SetStageOutput(entry.Name, sr.Output)
			completed = append(completed, checkpoint.StageRecord{
				Name: entry.Name, Status: string(sr.Status),
				DurationMS: sr.Duration.Milliseconds(), Attempts: sr.Attempts,
				Output: sr.Output,
			})
			if err := o.saveCheckpoint(c.ID, sm.State(), completed, checkpointPlan); err != nil {
				return o.fail(sm, &result, err.WithStage(entry.Name))
			}
			continue
		}

		// sr.Status == Failed.
		if errtax.KindOf(sr.Err) == errtax.Cancelled {
			return o.cancel(sm, c.ID, &result, completed, checkpointPlan)
		}

		completed = append(completed, checkpoint.StageRecord{
			Name: entry.Name, Status: string(sr.Status),
			DurationMS: sr.Duration.Milliseconds(), Attempts: sr.Attempts,
			Error: errString(sr.Err),
		})
		if err := o.saveCheckpoint(c.ID, sm.State(), completed, checkpointPlan); err != nil {
			return o.fail(sm, &result, err.WithStage(entry.Name))
		}

		if !entry.Mandatory {
			o.publish(eventbus.StageSkipped, c.ID, entry.Name, map[string]any{"reason": "optional stage failed, continuing"})
			continue
		}

		return o.fail(sm, &result, sr.Err)
	}

	if err := sm.Transition(statemachine.Completed, "plan exhausted"); err != nil {
		return o.fail(sm, &result, errtax.Wrap(errtax.Internal, err).WithCard(c.ID))
	}
	o.publish(eventbus.PipelineCompleted, c.ID, "", nil)
	result.State = sm.State()
	return result, nil
}

// loadResumeState loads any existing checkpoint for cardID, computes
// the resumable prefix against the freshly resolved plan, and injects
// the resumed stages' recorded outputs into pctx. Only the prefix of
// stages whose names and parameters match the checkpoint is resumed;
// a mismatch invalidates the rest.
func (o *Orchestrator) loadResumeState(cardID string, planRecords []checkpoint.PlanEntryRecord, pctx *card.Context, result *FinalResult) ([]checkpoint.StageRecord, int, error) {
	if o.Checkpoints == nil {
		return nil, 0, nil
	}
	cp, found, err := o.Checkpoints.Load(cardID)
	if err != nil {
		return nil, 0, errtax.Wrap(errtax.Internal, err).WithCard(cardID)
	}
	if !found {
		return nil, 0, nil
	}

	n := checkpoint.ResumablePrefix(cp.Plan, planRecords)
	resumed := make([]checkpoint.StageRecord, 0, n)
	for i := 0; i < n && i < len(cp.CompletedStages); i++ {
		rec := cp.CompletedStages[i]
		if rec.Status != string(supervisor.Succeeded) {
			break
		}
		pctx.SetStageOutput(rec.Name, rec.Output)
		resumed = append(resumed, rec)
		result.StageResults = append(result.StageResults, supervisor.StageResult{
			Stage: rec.Name, Status: supervisor.Status(rec.Status),
			Duration: time.Duration(rec.DurationMS) * time.Millisecond,
			Attempts: rec.Attempts, Output: rec.Output,
		})
	}
	return resumed, len(resumed), nil
}

// saveCheckpoint persists cp and reports a save failure as an
// *errtax.Error rather than swallowing it: a rejected or failed write
// leaves the run with no resumable checkpoint, which is as fatal to
// this run as a stage failure.
func (o *Orchestrator) saveCheckpoint(cardID string, state statemachine.State, completed []checkpoint.StageRecord, plan []checkpoint.PlanEntryRecord) *errtax.Error {
	if o.Checkpoints == nil {
		return nil
	}
	now := time.Now()
	cp := checkpoint.Checkpoint{
		CardID: cardID, CheckpointID: time.Now().UnixNano(),
		PipelineState: string(state), StartedAt: now, UpdatedAt: now,
		CompletedStages: completed, Plan: plan,
	}
	if err := o.Checkpoints.Save(cp); err != nil {
		kind := errtax.Internal
		if errors.Is(err, checkpoint.ErrTooLarge) || errors.Is(err, checkpoint.ErrInvalidID) {
			kind = errtax.InvalidInput
		}
		return errtax.Wrap(kind, err).WithCard(cardID)
	}
	return nil
}

func (o *Orchestrator) fail(sm *statemachine.Machine, result *FinalResult, err error) (FinalResult, error) {
	_ = sm.Transition(statemachine.Failed, err.Error())
	o.publish(eventbus.PipelineFailed, result.CardID, "", map[string]any{"error": err.Error()})
	result.State = sm.State()
	result.Err = err
	return *result, err
}

func (o *Orchestrator) cancel(sm *statemachine.Machine, cardID string, result *FinalResult, completed []checkpoint.StageRecord, plan []checkpoint.PlanEntryRecord) (FinalResult, error) {
	if err := o.saveCheckpoint(cardID, statemachine.Cancelled, completed, plan); err != nil {
		return o.fail(sm, result, err)
	}
	_ = sm.Transition(statemachine.Cancelled, "cancellation requested")
	o.publish(eventbus.PipelineCancelled, cardID, "", nil)
	result.State = sm.State()
	result.Err = errtax.New(errtax.Cancelled, "run cancelled").WithCard(cardID)
	return *result, result.Err
}

func (o *Orchestrator) publish(t eventbus.Type, cardID, stageName string, payload map[string]any) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(eventbus.Event{Type: t, CardID: cardID, Stage: stageName, Payload: payload})
}

func toPlanRecords(plan []router.StagePlanEntry) []checkpoint.PlanEntryRecord {
	out := make([]checkpoint.PlanEntryRecord, len(plan))
	for i, e := range plan {
		out[i] = checkpoint.PlanEntryRecord{Name: e.Name, Params: e.Extra}
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
