package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artemis-dev/artemis/internal/card"
	"github.com/artemis-dev/artemis/internal/checkpoint"
	"github.com/artemis-dev/artemis/internal/circuit"
	"github.com/artemis-dev/artemis/internal/errtax"
	"github.com/artemis-dev/artemis/internal/eventbus"
	"github.com/artemis-dev/artemis/internal/retry"
	"github.com/artemis-dev/artemis/internal/router"
	"github.com/artemis-dev/artemis/internal/stage"
	"github.com/artemis-dev/artemis/internal/statemachine"
	"github.com/artemis-dev/artemis/internal/supervisor"
)

type fakeStage struct {
	name string
	run  func(ctx context.Context, view card.View, params map[string]any) (map[string]any, error)
}

func (f fakeStage) Name() string { return f.name }
func (f fakeStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	return f.run(ctx, view, params)
}

func succeedingStage(name string) fakeStage {
	return fakeStage{name: name, run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		return map[string]any{"stage": name}, nil
	}}
}

func failingStage(name string, kind errtax.Kind) fakeStage {
	return fakeStage{name: name, run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		return nil, errtax.New(kind, name+" failed")
	}}
}

func twoStageCatalogue() []router.StageBlueprint {
	return []router.StageBlueprint{
		{Name: "parse", Base: router.StagePlanEntry{Name: "parse", MaxWorkers: 1, Mandatory: true}},
		{Name: "dev", Base: router.StagePlanEntry{Name: "dev", MaxWorkers: 1, Mandatory: true}},
	}
}

func newTestOrchestrator(reg *stage.Registry, bus *eventbus.Bus, store checkpoint.Store, manual []string) *Orchestrator {
	r := router.New(router.Manual, twoStageCatalogue())
	r.ManualList = manual
	if bus == nil {
		bus = eventbus.New(false, 3)
	}
	return &Orchestrator{
		Registry:       reg,
		Router:         r,
		Supervisor:     supervisor.New(circuit.NewRegistry(circuit.DefaultParams()), bus, circuit.NewHealthMonitor(10)),
		Checkpoints:    store,
		Bus:            bus,
		DefaultPolicy:  retry.Policy{MaxAttempts: 1},
		DefaultTimeout: time.Second,
	}
}

func TestOrchestrator_Run_SucceedsAllMandatoryStages(t *testing.T) {
	// Given a two-stage plan where both stages succeed
	reg := stage.NewRegistry()
	_ = reg.Register(succeedingStage("parse"))
	_ = reg.Register(succeedingStage("dev"))
	o := newTestOrchestrator(reg, nil, checkpoint.NewMemStore(0), []string{"parse", "dev"})

	// When the run executes
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then it completes with both stage results recorded
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != statemachine.Completed {
		t.Errorf("state = %s, want completed", result.State)
	}
	if len(result.StageResults) != 2 {
		t.Fatalf("stage results = %+v, want 2 entries", result.StageResults)
	}
	for _, sr := range result.StageResults {
		if sr.Status != supervisor.Succeeded {
			t.Errorf("stage %s status = %s, want succeeded", sr.Stage, sr.Status)
		}
	}
}

func TestOrchestrator_Run_InvalidCardRejected(t *testing.T) {
	// Given an orchestrator and a card with no ID
	reg := stage.NewRegistry()
	o := newTestOrchestrator(reg, nil, nil, []string{"parse", "dev"})

	// When run with an invalid card
	_, err := o.Run(context.Background(), card.Card{})

	// Then it is rejected before any stage runs
	if err == nil {
		t.Error("expected error for invalid card")
	}
}

func TestOrchestrator_Run_UnregisteredStageInPlanErrors(t *testing.T) {
	// Given a plan naming a stage absent from the registry
	reg := stage.NewRegistry()
	_ = reg.Register(succeedingStage("parse"))
	o := newTestOrchestrator(reg, nil, nil, []string{"parse", "dev"})

	// When run
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then it fails with the run transitioned to failed
	if err == nil {
		t.Fatal("expected error for unregistered stage")
	}
	if result.State != statemachine.Failed {
		t.Errorf("state = %s, want failed", result.State)
	}
}

func TestOrchestrator_Run_MandatoryStageFailureStopsRun(t *testing.T) {
	// Given a mandatory stage that fails terminally
	reg := stage.NewRegistry()
	_ = reg.Register(succeedingStage("parse"))
	_ = reg.Register(failingStage("dev", errtax.StageFatal))
	o := newTestOrchestrator(reg, nil, checkpoint.NewMemStore(0), []string{"parse", "dev"})

	// When run
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then the run fails after recording both stage results
	if err == nil {
		t.Fatal("expected error")
	}
	if result.State != statemachine.Failed {
		t.Errorf("state = %s, want failed", result.State)
	}
	if len(result.StageResults) != 2 {
		t.Fatalf("stage results = %+v, want 2 entries (parse succeeded, dev failed)", result.StageResults)
	}
}

func TestOrchestrator_Run_OptionalStageFailureContinues(t *testing.T) {
	// Given a non-mandatory stage that fails and a mandatory stage after it
	catalogue := []router.StageBlueprint{
		{Name: "parse", Base: router.StagePlanEntry{Name: "parse", Mandatory: false}},
		{Name: "dev", Base: router.StagePlanEntry{Name: "dev", Mandatory: true}},
	}
	reg := stage.NewRegistry()
	_ = reg.Register(failingStage("parse", errtax.StageFatal))
	_ = reg.Register(succeedingStage("dev"))
	r := router.New(router.Manual, catalogue)
	r.ManualList = []string{"parse", "dev"}
	bus := eventbus.New(false, 3)
	o := &Orchestrator{
		Registry:       reg,
		Router:         r,
		Supervisor:     supervisor.New(circuit.NewRegistry(circuit.DefaultParams()), bus, circuit.NewHealthMonitor(10)),
		Checkpoints:    checkpoint.NewMemStore(0),
		Bus:            bus,
		DefaultPolicy:  retry.Policy{MaxAttempts: 1},
		DefaultTimeout: time.Second,
	}

	// When run
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then the run completes despite the optional failure
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != statemachine.Completed {
		t.Errorf("state = %s, want completed", result.State)
	}
	if len(result.StageResults) != 2 || result.StageResults[0].Status != supervisor.Failed || result.StageResults[1].Status != supervisor.Succeeded {
		t.Fatalf("unexpected stage results: %+v", result.StageResults)
	}
}

func TestOrchestrator_Run_ResumesFromCheckpoint(t *testing.T) {
	// Given a checkpoint recording "parse" already succeeded
	store := checkpoint.NewMemStore(0)
	plan := []checkpoint.PlanEntryRecord{{Name: "parse"}, {Name: "dev"}}
	_ = store.Save(checkpoint.Checkpoint{
		CardID: "C1", PipelineState: "running",
		CompletedStages: []checkpoint.StageRecord{{Name: "parse", Status: string(supervisor.Succeeded), Output: map[string]any{"stage": "parse"}}},
		Plan:            plan,
	})

	var devCalls int32
	reg := stage.NewRegistry()
	_ = reg.Register(fakeStage{name: "parse", run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		t.Fatal("parse should not be re-invoked on resume")
		return nil, nil
	}})
	_ = reg.Register(fakeStage{name: "dev", run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		atomic.AddInt32(&devCalls, 1)
		if _, ok := v.StageOutput("parse"); !ok {
			t.Error("expected parse's recorded output to be injected into context")
		}
		return map[string]any{"stage": "dev"}, nil
	}})
	o := newTestOrchestrator(reg, nil, store, []string{"parse", "dev"})

	// When run
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then only "dev" is invoked and the run completes
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&devCalls) != 1 {
		t.Errorf("dev calls = %d, want 1", devCalls)
	}
	if result.State != statemachine.Completed {
		t.Errorf("state = %s, want completed", result.State)
	}
	if len(result.StageResults) != 2 {
		t.Fatalf("stage results = %+v, want 2 (1 resumed + 1 invoked)", result.StageResults)
	}
}

func TestOrchestrator_Run_NoOpWhenCheckpointFullySatisfied(t *testing.T) {
	// Given a checkpoint recording every plan stage as already succeeded
	store := checkpoint.NewMemStore(0)
	plan := []checkpoint.PlanEntryRecord{{Name: "parse"}, {Name: "dev"}}
	_ = store.Save(checkpoint.Checkpoint{
		CardID: "C1", PipelineState: "completed",
		CompletedStages: []checkpoint.StageRecord{
			{Name: "parse", Status: string(supervisor.Succeeded)},
			{Name: "dev", Status: string(supervisor.Succeeded)},
		},
		Plan: plan,
	})

	reg := stage.NewRegistry()
	_ = reg.Register(fakeStage{name: "parse", run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		t.Fatal("no stage should be invoked when the checkpoint is fully satisfied")
		return nil, nil
	}})
	_ = reg.Register(fakeStage{name: "dev", run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		t.Fatal("no stage should be invoked when the checkpoint is fully satisfied")
		return nil, nil
	}})
	o := newTestOrchestrator(reg, nil, store, []string{"parse", "dev"})

	// When run
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then it completes immediately as a no-op
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != statemachine.Completed {
		t.Errorf("state = %s, want completed", result.State)
	}
}

func TestOrchestrator_Run_CancellationTransitionsToCancelled(t *testing.T) {
	// Given a context cancelled before the run starts executing stages
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := stage.NewRegistry()
	_ = reg.Register(fakeStage{name: "parse", run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		t.Fatal("stage should not run once the context is already cancelled")
		return nil, nil
	}})
	_ = reg.Register(succeedingStage("dev"))
	o := newTestOrchestrator(reg, nil, checkpoint.NewMemStore(0), []string{"parse", "dev"})

	// When run
	result, err := o.Run(ctx, card.Card{ID: "C1"})

	// Then the run transitions to cancelled
	if err == nil {
		t.Fatal("expected error")
	}
	if result.State != statemachine.Cancelled {
		t.Errorf("state = %s, want cancelled", result.State)
	}
}

func TestOrchestrator_Run_EmitsPipelineLifecycleEvents(t *testing.T) {
	// Given a bus collecting pipeline-level events
	bus := eventbus.New(false, 3)
	var events []eventbus.Type
	bus.Subscribe(eventbus.ObserverFunc(func(e eventbus.Event) {
		if e.Type == eventbus.PipelineStarted || e.Type == eventbus.PipelineCompleted {
			events = append(events, e.Type)
		}
	}))

	reg := stage.NewRegistry()
	_ = reg.Register(succeedingStage("parse"))
	_ = reg.Register(succeedingStage("dev"))
	o := newTestOrchestrator(reg, bus, checkpoint.NewMemStore(0), []string{"parse", "dev"})

	// When run
	_, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then pipeline_started precedes pipeline_completed
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []eventbus.Type{eventbus.PipelineStarted, eventbus.PipelineCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

// failingCheckpointStore always rejects Save with the given error,
// simulating an oversized or otherwise broken backend.
type failingCheckpointStore struct {
	saveErr error
}

func (s failingCheckpointStore) Save(checkpoint.Checkpoint) error        { return s.saveErr }
func (s failingCheckpointStore) Load(string) (checkpoint.Checkpoint, bool, error) {
	return checkpoint.Checkpoint{}, false, nil
}
func (s failingCheckpointStore) Delete(string) error { return nil }

func TestOrchestrator_Run_CheckpointSaveFailureFailsTheRun(t *testing.T) {
	// Given a checkpoint store that rejects every Save (e.g. oversized payload)
	reg := stage.NewRegistry()
	_ = reg.Register(succeedingStage("parse"))
	_ = reg.Register(succeedingStage("dev"))
	o := newTestOrchestrator(reg, nil, failingCheckpointStore{saveErr: checkpoint.ErrTooLarge}, []string{"parse", "dev"})

	// When run
	result, err := o.Run(context.Background(), card.Card{ID: "C1"})

	// Then the run fails instead of silently reporting success with no
	// checkpoint persisted
	if err == nil {
		t.Fatal("expected error surfaced from the checkpoint store")
	}
	if result.State != statemachine.Failed {
		t.Errorf("state = %s, want failed", result.State)
	}
	if e, ok := errtax.As(err); !ok || e.Kind != errtax.InvalidInput {
		t.Errorf("error kind = %v, want InvalidInput for an oversized checkpoint", err)
	}
}

func TestOrchestrator_Run_CancellationCheckpointSaveFailureFailsTheRun(t *testing.T) {
	// Given a context cancelled before the run starts, and a checkpoint
	// store that rejects Save
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := stage.NewRegistry()
	_ = reg.Register(fakeStage{name: "parse", run: func(ctx context.Context, v card.View, p map[string]any) (map[string]any, error) {
		t.Fatal("stage should not run once the context is already cancelled")
		return nil, nil
	}})
	_ = reg.Register(succeedingStage("dev"))
	o := newTestOrchestrator(reg, nil, failingCheckpointStore{saveErr: checkpoint.ErrTooLarge}, []string{"parse", "dev"})

	// When run
	result, err := o.Run(ctx, card.Card{ID: "C1"})

	// Then the run reports failed, not a silently-persisted cancellation
	if err == nil {
		t.Fatal("expected error")
	}
	if result.State != statemachine.Failed {
		t.Errorf("state = %s, want failed", result.State)
	}
}
