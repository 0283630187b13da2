// Package card defines the opaque task descriptor that a pipeline run
// processes and the run-scoped context handed to every stage.
package card

import "fmt"

// Card is the caller-supplied task descriptor. It is immutable once
// created: the substrate reads it, stages read it, nobody mutates it.
type Card struct {
	ID          string
	Title       string
	Description string
	Priority    int
	StoryPoints float64
	Labels      []string
	Metadata    map[string]any
}

// Validate checks the invariants the substrate relies on: a non-empty ID.
// Everything else is caller-defined and opaque to the substrate.
func (c Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("card: id must not be empty")
	}
	return nil
}

// Context is the mutable-only-at-stage-boundaries mapping of stage
// outputs handed to every stage. The orchestrator is the only writer;
// stages receive a read-only View.
type Context struct {
	Card    Card
	outputs map[string]any
	extra   map[string]any
}

// NewContext creates a Context for the given card.
func NewContext(c Card) *Context {
	return &Context{
		Card:    c,
		outputs: make(map[string]any),
		extra:   make(map[string]any),
	}
}

// SetStageOutput records the output payload for a completed stage.
// Only called by the orchestrator, between stage invocations.
func (c *Context) SetStageOutput(stage string, output any) {
	c.outputs[stage] = output
}

// StageOutput returns the recorded output for a stage, if any.
func (c *Context) StageOutput(stage string) (any, bool) {
	v, ok := c.outputs[stage]
	return v, ok
}

// Set stores an arbitrary user key in the context. Only called by the
// orchestrator, between stage invocations.
func (c *Context) Set(key string, value any) {
	c.extra[key] = value
}

// Get returns an arbitrary user key from the context.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.extra[key]
	return v, ok
}

// View returns a read-only snapshot of this context for handing to a
// stage. The snapshot is a shallow copy: stages must not mutate the
// returned maps.
func (c *Context) View() View {
	outputs := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		outputs[k] = v
	}
	extra := make(map[string]any, len(c.extra))
	for k, v := range c.extra {
		extra[k] = v
	}
	return View{Card: c.Card, Outputs: outputs, Extra: extra}
}

// View is the read-only value a Stage receives. Stages return an output
// payload instead of mutating the context directly; the orchestrator
// merges it back via SetStageOutput.
type View struct {
	Card    Card
	Outputs map[string]any
	Extra   map[string]any
}

// StageOutput returns the recorded output for a stage, if any.
func (v View) StageOutput(stage string) (any, bool) {
	out, ok := v.Outputs[stage]
	return out, ok
}
