package router

import "github.com/artemis-dev/artemis/internal/card"

// AdvancedMode is one of the router's "advanced mode" flags: a
// per-stage behavior toggle the router decides on, never the stage
// itself — a stage is told what to do, it never decides mode for
// itself.
type AdvancedMode string

const (
	ParallelWorkers       AdvancedMode = "parallel_workers"
	FastPreview           AdvancedMode = "fast_preview"
	UncertaintyQuantified AdvancedMode = "uncertainty_quantified"
)

// ModeScore is one mode's computed benefit, in [0, 1], and whether the
// router enables it for this plan entry.
type ModeScore struct {
	Mode    AdvancedMode
	Benefit float64
	Enabled bool
}

// enableThreshold is the benefit score at or above which a mode is switched on.
const enableThreshold = 0.5

// ScoreModes computes a benefit score per advanced mode for c, using
// the complexity estimate as a stand-in for identified risks and an
// uncertainty estimate, absent a model call.
func ScoreModes(c card.Card) []ModeScore {
	est := EstimateComplexity(c)
	norm := tierFraction(est.Tier)

	parallelBenefit := norm    // more workers pay off more as complexity rises
	previewBenefit := 1 - norm // fast preview is most valuable for small, low-risk cards
	uncertaintyBenefit := 0.0
	if est.Tier >= Complex {
		uncertaintyBenefit = norm
	}

	scores := []ModeScore{
		{Mode: ParallelWorkers, Benefit: parallelBenefit},
		{Mode: FastPreview, Benefit: previewBenefit},
		{Mode: UncertaintyQuantified, Benefit: uncertaintyBenefit},
	}
	for i := range scores {
		scores[i].Enabled = scores[i].Benefit >= enableThreshold
	}
	return scores
}

func tierFraction(t ComplexityTier) float64 {
	return float64(t) / float64(Critical)
}

// ApplyModes stamps every scored mode's enabled flag (true or false)
// into entry.Extra so
// downstream stages see it as plan data, never make the decision
// themselves.
func ApplyModes(entry StagePlanEntry, scores []ModeScore) StagePlanEntry {
	if entry.Extra == nil {
		entry.Extra = make(map[string]any, len(scores))
	}
	for _, s := range scores {
		entry.Extra[string(s.Mode)] = s.Enabled
	}
	return entry
}
