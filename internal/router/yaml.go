package router

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// blueprintYAML is the YAML representation of a StageBlueprint.
type blueprintYAML struct {
	Name          string         `yaml:"name"`
	MinComplexity string         `yaml:"min_complexity,omitempty"`
	MaxWorkers    int            `yaml:"max_workers,omitempty"`
	RetryBudget   int            `yaml:"retry_budget,omitempty"`
	Timeout       string         `yaml:"timeout,omitempty"`
	Mandatory     bool           `yaml:"mandatory,omitempty"`
	Extra         map[string]any `yaml:"extra,omitempty"`
}

type catalogueFile struct {
	Stages []blueprintYAML `yaml:"stages"`
}

// LoadCatalogue resolves a catalogue specifier to a slice of
// StageBlueprints. The specifier is either a preset name ("default",
// "minimal") or a path to a YAML file.
func LoadCatalogue(specifier string) ([]StageBlueprint, error) {
	if bp := PresetCatalogue(specifier); bp != nil {
		return bp, nil
	}
	return LoadCatalogueFile(specifier)
}

// LoadCatalogueFile loads stage blueprints from a YAML file.
func LoadCatalogueFile(path string) ([]StageBlueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: reading %s: %w", path, err)
	}
	return ParseCatalogueYAML(data)
}

// ParseCatalogueYAML parses stage blueprints from YAML bytes.
func ParseCatalogueYAML(data []byte) ([]StageBlueprint, error) {
	var file catalogueFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("router: parsing YAML: %w", err)
	}
	if len(file.Stages) == 0 {
		return nil, errors.New("router: no stages defined")
	}

	catalogue := make([]StageBlueprint, len(file.Stages))
	for i, sy := range file.Stages {
		bp, err := convertBlueprintYAML(sy)
		if err != nil {
			return nil, fmt.Errorf("router: stages[%d] %q: %w", i, sy.Name, err)
		}
		catalogue[i] = bp
	}

	if err := ValidateCatalogue(catalogue); err != nil {
		return nil, err
	}
	return catalogue, nil
}

func convertBlueprintYAML(sy blueprintYAML) (StageBlueprint, error) {
	if sy.Name == "" {
		return StageBlueprint{}, errors.New("name is required")
	}

	tier, err := parseTier(sy.MinComplexity)
	if err != nil {
		return StageBlueprint{}, err
	}

	bp := StageBlueprint{
		Name:          sy.Name,
		MinComplexity: tier,
		Base: StagePlanEntry{
			Name:        sy.Name,
			MaxWorkers:  sy.MaxWorkers,
			RetryBudget: sy.RetryBudget,
			Mandatory:   sy.Mandatory,
			Extra:       sy.Extra,
		},
	}
	if bp.Base.MaxWorkers <= 0 {
		bp.Base.MaxWorkers = 1
	}

	if sy.Timeout != "" {
		d, err := time.ParseDuration(sy.Timeout)
		if err != nil {
			return StageBlueprint{}, fmt.Errorf("invalid timeout %q: %w", sy.Timeout, err)
		}
		bp.Base.Timeout = d
	}

	return bp, nil
}

func parseTier(s string) (ComplexityTier, error) {
	switch s {
	case "", "trivial":
		return Trivial, nil
	case "simple":
		return Simple, nil
	case "moderate":
		return Moderate, nil
	case "complex":
		return Complex, nil
	case "critical":
		return Critical, nil
	default:
		return Trivial, fmt.Errorf("invalid min_complexity %q", s)
	}
}

// ValidateCatalogue checks a loaded catalogue for duplicate stage
// names, the same check Validate applies to resolved plans.
func ValidateCatalogue(catalogue []StageBlueprint) error {
	seen := make(map[string]bool, len(catalogue))
	for _, bp := range catalogue {
		if seen[bp.Name] {
			return fmt.Errorf("router: duplicate stage %q in catalogue", bp.Name)
		}
		seen[bp.Name] = true
	}
	return nil
}
