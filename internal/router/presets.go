package router

import "time"

// DefaultCatalogue returns the standard pipeline stage blueprints in
// execution order: requirements parsing, planning, architecture,
// parallel code generation, review, validation, integration, testing.
func DefaultCatalogue() []StageBlueprint {
	return []StageBlueprint{
		{Name: "parse", MinComplexity: Trivial, Base: StagePlanEntry{Name: "parse", MaxWorkers: 1, RetryBudget: 2, Timeout: 30 * time.Second, Mandatory: true}},
		{Name: "plan", MinComplexity: Trivial, Base: StagePlanEntry{Name: "plan", MaxWorkers: 1, RetryBudget: 2, Timeout: 60 * time.Second, Mandatory: true}},
		{Name: "architect", MinComplexity: Moderate, Base: StagePlanEntry{Name: "architect", MaxWorkers: 1, RetryBudget: 2, Timeout: 120 * time.Second, Mandatory: true}},
		{Name: "dev", MinComplexity: Trivial, Base: StagePlanEntry{Name: "dev", MaxWorkers: 3, RetryBudget: 3, Timeout: 300 * time.Second, Mandatory: true}},
		{Name: "review", MinComplexity: Trivial, Base: StagePlanEntry{Name: "review", MaxWorkers: 1, RetryBudget: 3, Timeout: 120 * time.Second, Mandatory: true}},
		{Name: "validate", MinComplexity: Simple, Base: StagePlanEntry{Name: "validate", MaxWorkers: 1, RetryBudget: 2, Timeout: 60 * time.Second, Mandatory: true}},
		{Name: "integrate", MinComplexity: Moderate, Base: StagePlanEntry{Name: "integrate", MaxWorkers: 1, RetryBudget: 2, Timeout: 90 * time.Second, Mandatory: true}},
		{Name: "test", MinComplexity: Trivial, Base: StagePlanEntry{Name: "test", MaxWorkers: 1, RetryBudget: 1, Timeout: 180 * time.Second, Mandatory: true}},
	}
}

// MinimalCatalogue is a fast-path preset covering only the stages
// mandatory for any card regardless of complexity.
func MinimalCatalogue() []StageBlueprint {
	return []StageBlueprint{
		{Name: "parse", MinComplexity: Trivial, Base: StagePlanEntry{Name: "parse", MaxWorkers: 1, RetryBudget: 1, Timeout: 30 * time.Second, Mandatory: true}},
		{Name: "dev", MinComplexity: Trivial, Base: StagePlanEntry{Name: "dev", MaxWorkers: 1, RetryBudget: 2, Timeout: 300 * time.Second, Mandatory: true}},
		{Name: "test", MinComplexity: Trivial, Base: StagePlanEntry{Name: "test", MaxWorkers: 1, RetryBudget: 1, Timeout: 180 * time.Second, Mandatory: true}},
	}
}

// PresetCatalogue resolves a preset name to its catalogue, or nil if
// name isn't a known preset (the caller should then try loading it as
// a YAML path).
func PresetCatalogue(name string) []StageBlueprint {
	switch name {
	case "default":
		return DefaultCatalogue()
	case "minimal":
		return MinimalCatalogue()
	default:
		return nil
	}
}
