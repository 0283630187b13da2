// Package demo provides illustrative Stage implementations for the
// router's default catalogue (parse, plan, architect, dev, review,
// validate, integrate, test). They stand in for the real content of a
// pipeline stage — code generation, review, and validation prompts are
// explicitly out of scope for the substrate itself — and exist so
// cmd/artemis has a runnable pipeline to drive end to end.
package demo

import (
	"context"
	"fmt"
	"strings"

	"github.com/artemis-dev/artemis/internal/campaign"
	"github.com/artemis-dev/artemis/internal/card"
	"github.com/artemis-dev/artemis/internal/errtax"
	"github.com/artemis-dev/artemis/internal/stage"
	"github.com/artemis-dev/artemis/internal/workerpool"
	"github.com/artemis-dev/artemis/internal/worktree"
)

// ParseStage splits a card's description into a line-per-requirement
// breakdown.
type ParseStage struct{}

func (ParseStage) Name() string { return "parse" }

func (ParseStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	if view.Card.Description == "" {
		return nil, errtax.New(errtax.InvalidInput, "card has no description to parse").WithStage("parse")
	}
	var requirements []string
	for _, line := range strings.Split(view.Card.Description, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			requirements = append(requirements, line)
		}
	}
	return map[string]any{"requirements": requirements}, nil
}

// PlanStage turns parsed requirements into an ordered task list.
type PlanStage struct{}

func (PlanStage) Name() string { return "plan" }

func (PlanStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	out, ok := view.StageOutput("parse")
	if !ok {
		return nil, errtax.New(errtax.Internal, "plan stage requires parse output").WithStage("plan")
	}
	parsed, ok := out.(map[string]any)
	if !ok {
		return nil, errtax.New(errtax.Internal, "parse output has unexpected shape").WithStage("plan")
	}
	requirements, _ := parsed["requirements"].([]string)

	tasks := make([]string, len(requirements))
	for i, r := range requirements {
		tasks[i] = fmt.Sprintf("task %d: %s", i+1, r)
	}
	return map[string]any{"tasks": tasks}, nil
}

// ArchitectStage sketches a design note per planned task.
type ArchitectStage struct{}

func (ArchitectStage) Name() string { return "architect" }

func (ArchitectStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	out, ok := view.StageOutput("plan")
	if !ok {
		return nil, errtax.New(errtax.Internal, "architect stage requires plan output").WithStage("architect")
	}
	planned, _ := out.(map[string]any)
	tasks, _ := planned["tasks"].([]string)

	return map[string]any{"design_notes": fmt.Sprintf("design covering %d task(s)", len(tasks))}, nil
}

// DevStage fans out competing implementation workers via the worker
// pool, bounded by params["max_workers"], and picks the first
// successful result. Grounded on the substrate's own workerpool: a
// stage, not the orchestrator, owns intra-stage parallelism.
//
// When Worktrees is set, each competing worker gets its own git
// worktree so candidates can touch files without racing each other;
// every worktree but the winner's is removed once a candidate is
// picked. A nil Worktrees (the zero value) keeps the original
// in-memory-only behavior, used by tests and by any caller without a
// git checkout to isolate against.
type DevStage struct {
	Worktrees  *worktree.Manager
	BaseBranch string // branch competing worktrees fork from; defaults to "main"
}

func (DevStage) Name() string { return "dev" }

func (d DevStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	maxWorkers, _ := params["max_workers"].(int)
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	if d.Worktrees == nil {
		return d.runInMemory(ctx, view, maxWorkers)
	}
	return d.runIsolated(ctx, view, maxWorkers)
}

func (d DevStage) runInMemory(ctx context.Context, view card.View, maxWorkers int) (map[string]any, error) {
	tasks := make([]workerpool.Task, maxWorkers)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (any, error) {
			return fmt.Sprintf("implementation candidate %d for %s", i+1, view.Card.ID), nil
		}
	}

	results, _, err := workerpool.Run(ctx, maxWorkers, tasks)
	if err != nil {
		return nil, errtax.Wrap(errtax.Transient, err).WithStage("dev")
	}
	return map[string]any{"implementation": results[0], "candidates": len(results)}, nil
}

// runIsolated creates one worktree per candidate worker, scoped to this
// card and attempt, and tears down every worktree but the winner's.
func (d DevStage) runIsolated(ctx context.Context, view card.View, maxWorkers int) (map[string]any, error) {
	baseBranch := d.BaseBranch
	if baseBranch == "" {
		baseBranch = "main"
	}

	ids := make([]string, maxWorkers)
	for i := range ids {
		ids[i] = fmt.Sprintf("dev-%s-%d", view.Card.ID, i+1)
		if err := d.Worktrees.Create(ids[i], baseBranch); err != nil {
			d.cleanup(ids[:i])
			return nil, errtax.Wrap(errtax.Transient, err).WithStage("dev")
		}
	}

	tasks := make([]workerpool.Task, maxWorkers)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (any, error) {
			path := d.Worktrees.Path(ids[i])
			return fmt.Sprintf("implementation candidate %d for %s at %s", i+1, view.Card.ID, path), nil
		}
	}

	results, _, err := workerpool.Run(ctx, maxWorkers, tasks)
	if err != nil {
		d.cleanup(ids)
		return nil, errtax.Wrap(errtax.Transient, err).WithStage("dev")
	}

	winner := ids[0]
	var losers []string
	for _, id := range ids[1:] {
		losers = append(losers, id)
	}
	d.cleanup(losers)

	return map[string]any{
		"implementation": results[0],
		"candidates":     len(results),
		"worktree":       winner,
	}, nil
}

// cleanup best-effort removes a set of worktree IDs; a removal failure
// here is not fatal to the stage, since the content it held already
// lost the selection.
func (d DevStage) cleanup(ids []string) {
	for _, id := range ids {
		_ = d.Worktrees.Remove(id, true)
	}
}

// ReviewStage evaluates the dev stage's implementation and surfaces a
// Finding when it judges the change risky, so a campaign with
// discovery filing enabled files a follow-up card.
type ReviewStage struct{}

func (ReviewStage) Name() string { return "review" }

func (ReviewStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	out, ok := view.StageOutput("dev")
	if !ok {
		return nil, errtax.New(errtax.Internal, "review stage requires dev output").WithStage("review")
	}
	dev, _ := out.(map[string]any)
	impl, _ := dev["implementation"].(string)

	result := map[string]any{"verdict": "approved", "reviewed": impl}
	if view.Card.Priority == 0 {
		result["findings"] = []campaign.Finding{
			{Title: fmt.Sprintf("revisit %s under time pressure", view.Card.ID), Severity: "minor"},
		}
	}
	return result, nil
}

// ValidateStage declares a dependency on an external validation
// service, exercising the supervisor's circuit preflight.
type ValidateStage struct{}

func (ValidateStage) Name() string { return "validate" }

func (ValidateStage) RequiredDependencies() []string { return []string{"validation_service"} }

func (ValidateStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	if _, ok := view.StageOutput("review"); !ok {
		return nil, errtax.New(errtax.Internal, "validate stage requires review output").WithStage("validate")
	}
	return map[string]any{"validated": true}, nil
}

// IntegrateStage merges the validated change.
type IntegrateStage struct{}

func (IntegrateStage) Name() string { return "integrate" }

func (IntegrateStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	if _, ok := view.StageOutput("validate"); !ok {
		return nil, errtax.New(errtax.Internal, "integrate stage requires validate output").WithStage("integrate")
	}
	return map[string]any{"integrated": true}, nil
}

// TestStage runs a simulated test suite against the integrated change.
type TestStage struct{}

func (TestStage) Name() string { return "test" }

func (TestStage) Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error) {
	if _, ok := view.StageOutput("integrate"); !ok {
		return nil, errtax.New(errtax.Internal, "test stage requires integrate output").WithStage("test")
	}
	return map[string]any{"passed": true}, nil
}

// Register adds every demo stage to reg under the router's default
// catalogue vocabulary (parse, plan, architect, dev, review, validate,
// integrate, test).
func Register(reg *stage.Registry) error {
	return register(reg, DevStage{})
}

// RegisterIsolated registers the same eight stages as Register, but
// with DevStage wired to wm so competing workers get their own git
// worktree instead of running purely in memory.
func RegisterIsolated(reg *stage.Registry, wm *worktree.Manager, baseBranch string) error {
	return register(reg, DevStage{Worktrees: wm, BaseBranch: baseBranch})
}

func register(reg *stage.Registry, dev DevStage) error {
	stages := []stage.Stage{
		ParseStage{}, PlanStage{}, ArchitectStage{}, dev,
		ReviewStage{}, ValidateStage{}, IntegrateStage{}, TestStage{},
	}
	for _, s := range stages {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}
