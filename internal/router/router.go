// Package router implements the Router/StageSelector contract: given
// a card, decide which stages run, their order, and their per-stage
// parameters.
package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/artemis-dev/artemis/internal/card"
)

// StagePlanEntry is one stage in an execution plan.
type StagePlanEntry struct {
	Name        string
	MaxWorkers  int
	RetryBudget int
	Timeout     time.Duration
	Mandatory   bool
	Extra       map[string]any
}

// StrategyKind is the closed set of selection strategies the router
// supports. The router is closed to modification: adding a strategy
// adds a case to Router.Plan, not a new open-ended plugin point.
type StrategyKind string

const (
	Complexity StrategyKind = "complexity"
	Resource   StrategyKind = "resource"
	Manual     StrategyKind = "manual"
	Adaptive   StrategyKind = "adaptive"
)

// StageBlueprint is one catalogue entry the router draws plans from:
// the stage's canonical position, its base parameters, and the minimum
// complexity tier at which it is included.
type StageBlueprint struct {
	Name          string
	MinComplexity ComplexityTier
	Base          StagePlanEntry
}

// ResourceBudget bounds what the resource-based strategy will permit.
type ResourceBudget struct {
	MaxWorkersPerStage int
	MaxTimeoutPerStage time.Duration
}

// Router builds execution plans from a stage catalogue according to a
// configured strategy.
type Router struct {
	Strategy   StrategyKind
	Catalogue  []StageBlueprint
	Budget     ResourceBudget
	ManualList []string // caller-supplied explicit stage names, in order
}

// New creates a Router using strategy over catalogue.
func New(strategy StrategyKind, catalogue []StageBlueprint) *Router {
	return &Router{Strategy: strategy, Catalogue: catalogue}
}

// Plan resolves an execution plan for c according to the router's
// configured strategy.
func (r *Router) Plan(c card.Card) ([]StagePlanEntry, error) {
	var entries []StagePlanEntry
	switch r.Strategy {
	case Complexity:
		entries = r.complexityPlan(c)
	case Resource:
		entries = r.resourceFilter(r.allBlueprints())
	case Manual:
		var err error
		entries, err = r.manualPlan()
		if err != nil {
			return nil, err
		}
	case Adaptive:
		entries = r.complexityPlan(c)
		entries = r.resourceFilter(entries)
		if len(r.ManualList) > 0 {
			manual, err := r.manualPlan()
			if err != nil {
				return nil, err
			}
			entries = manual
		}
	default:
		return nil, fmt.Errorf("router: unknown strategy %q", r.Strategy)
	}

	if err := Validate(entries, r.registeredNames()); err != nil {
		return nil, err
	}
	return entries, nil
}

// allBlueprints returns every catalogue entry's base plan, ignoring
// complexity gating — used as the resource strategy's starting set.
func (r *Router) allBlueprints() []StagePlanEntry {
	entries := make([]StagePlanEntry, 0, len(r.Catalogue))
	for _, bp := range r.Catalogue {
		entries = append(entries, bp.Base)
	}
	return entries
}

// complexityPlan estimates c's complexity and includes every blueprint
// stage whose MinComplexity tier is met, scaling worker counts for
// higher tiers.
func (r *Router) complexityPlan(c card.Card) []StagePlanEntry {
	tier := EstimateComplexity(c).Tier
	entries := make([]StagePlanEntry, 0, len(r.Catalogue))
	for _, bp := range r.Catalogue {
		if tier < bp.MinComplexity {
			continue
		}
		entry := bp.Base
		entry.MaxWorkers = scaleWorkers(entry.MaxWorkers, tier)
		entries = append(entries, entry)
	}
	return entries
}

// scaleWorkers fits a stage's base worker count to the complexity tier:
// a base of several competing workers runs one worker for Trivial or
// Simple tasks, at most two for Moderate, and the full base once the
// task is judged Complex or Critical. A base of 1 is never widened.
func scaleWorkers(base int, tier ComplexityTier) int {
	if base <= 1 {
		return base
	}
	switch tier {
	case Trivial, Simple:
		return 1
	case Moderate:
		if base > 2 {
			return 2
		}
		return base
	default: // Complex, Critical
		return base
	}
}

// resourceFilter drops any entry whose parameters exceed the router's
// ResourceBudget: a stage that cannot fit the budget at all should not
// silently run under-resourced and claim success, so it is excluded
// rather than clamped.
func (r *Router) resourceFilter(entries []StagePlanEntry) []StagePlanEntry {
	if r.Budget.MaxWorkersPerStage <= 0 && r.Budget.MaxTimeoutPerStage <= 0 {
		return entries
	}
	out := make([]StagePlanEntry, 0, len(entries))
	for _, e := range entries {
		if r.Budget.MaxWorkersPerStage > 0 && e.MaxWorkers > r.Budget.MaxWorkersPerStage {
			continue
		}
		if r.Budget.MaxTimeoutPerStage > 0 && e.Timeout > r.Budget.MaxTimeoutPerStage {
			continue
		}
		out = append(out, e)
	}
	return out
}

// manualPlan builds a plan strictly from r.ManualList, looking up each
// name's base parameters in the catalogue.
func (r *Router) manualPlan() ([]StagePlanEntry, error) {
	byName := make(map[string]StagePlanEntry, len(r.Catalogue))
	for _, bp := range r.Catalogue {
		byName[bp.Name] = bp.Base
	}
	entries := make([]StagePlanEntry, 0, len(r.ManualList))
	for _, name := range r.ManualList {
		base, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("router: manual plan references unregistered stage %q", name)
		}
		entries = append(entries, base)
	}
	return entries, nil
}

func (r *Router) registeredNames() map[string]bool {
	names := make(map[string]bool, len(r.Catalogue))
	for _, bp := range r.Catalogue {
		names[bp.Name] = true
	}
	return names
}

// Validate refuses a plan with duplicate stage names or references to
// stages absent from registeredNames. The plan is a strict sequence,
// not a graph, so the only "cycle" possible is a repeated name.
func Validate(entries []StagePlanEntry, registeredNames map[string]bool) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			return fmt.Errorf("router: duplicate stage %q in plan", e.Name)
		}
		seen[e.Name] = true
		if registeredNames != nil && !registeredNames[e.Name] {
			return fmt.Errorf("router: plan references unregistered stage %q", e.Name)
		}
	}
	return nil
}

// ComplexityTier is the closed set of complexity estimates the
// complexity-based strategy maps a card onto.
type ComplexityTier int

const (
	Trivial ComplexityTier = iota
	Simple
	Moderate
	Complex
	Critical
)

func (t ComplexityTier) String() string {
	switch t {
	case Trivial:
		return "trivial"
	case Simple:
		return "simple"
	case Moderate:
		return "moderate"
	case Complex:
		return "complex"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ComplexityEstimate is the result of EstimateComplexity.
type ComplexityEstimate struct {
	Tier  ComplexityTier
	Score float64
}

// riskyKeywords nudge the estimate upward when present in a card's
// title, description, or labels — a cheap stand-in for an optional
// model-call heuristic.
var riskyKeywords = []string{"migration", "security", "breaking", "concurrency", "distributed", "auth"}

// EstimateComplexity derives a complexity tier from story points and a
// keyword heuristic over the card's text fields.
func EstimateComplexity(c card.Card) ComplexityEstimate {
	score := c.StoryPoints

	haystack := strings.ToLower(c.Title + " " + c.Description + " " + strings.Join(c.Labels, " "))
	for _, kw := range riskyKeywords {
		if strings.Contains(haystack, kw) {
			score += 2
		}
	}

	var tier ComplexityTier
	switch {
	case score <= 1:
		tier = Trivial
	case score <= 3:
		tier = Simple
	case score <= 8:
		tier = Moderate
	case score <= 13:
		tier = Complex
	default:
		tier = Critical
	}
	return ComplexityEstimate{Tier: tier, Score: score}
}
