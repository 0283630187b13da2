// Package stage defines the Stage capability, the external contract
// every pipeline stage implements, and a registry mapping stage names
// to implementations.
package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/artemis-dev/artemis/internal/card"
)

// Stage is the external contract a host registers under a name
// matching the router's vocabulary. Execute must honor ctx
// cancellation and must not mutate view directly — outputs are merged
// into the run's context by the orchestrator after the call returns.
type Stage interface {
	Name() string
	Execute(ctx context.Context, view card.View, params map[string]any) (map[string]any, error)
}

// DependencyDeclarer is an optional capability: stages that call out to
// a named external dependency (model client, knowledge store) declare
// it here so the supervisor can pre-flight the circuit before
// attempting the call.
type DependencyDeclarer interface {
	RequiredDependencies() []string
}

// Dependencies returns s.RequiredDependencies() if s implements
// DependencyDeclarer, or nil otherwise.
func Dependencies(s Stage) []string {
	if d, ok := s.(DependencyDeclarer); ok {
		return d.RequiredDependencies()
	}
	return nil
}

// Registry maps stage names to implementations. Registration is
// one-way: the substrate depends on the Stage capability only, never on
// concrete stage types, which breaks the cyclic-reference hazard of
// stages referencing the orchestrator that dispatches them.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds s under its own Name(). Registering a second stage
// under a name already taken is a configuration error.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if name == "" {
		return fmt.Errorf("stage: cannot register a stage with an empty name")
	}
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("stage: %q already registered", name)
	}
	r.stages[name] = s
	return nil
}

// Lookup returns the stage registered under name.
func (r *Registry) Lookup(name string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Names returns every registered stage name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	return names
}
